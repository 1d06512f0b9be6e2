// Package store keeps a durable transcript of every chat session in SQLite
// so a session can be resumed later.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"LocalChat/internal/session"
)

const (
	// DriverCgo is github.com/mattn/go-sqlite3
	DriverCgo = "sqlite3"
	// DriverPure is modernc.org/sqlite, usable when cgo is disabled
	DriverPure = "sqlite"
)

// ErrSessionNotFound is returned when loading an unknown session ID
var ErrSessionNotFound = errors.New("session not found")

// Summary describes a stored session
type Summary struct {
	ID        string
	StartTime time.Time
	Backend   string
	Model     string
	Turns     int
}

// Store persists sessions and their turns
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the database at path with the given driver
func Open(driver, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dsn string
	switch driver {
	case DriverCgo:
		dsn = path + "?_journal_mode=WAL&_busy_timeout=5000"
	case DriverPure:
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database at %s: %w", path, err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	createSessionsTable := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		start_time INTEGER NOT NULL,
		backend TEXT NOT NULL,
		model TEXT NOT NULL
	);`

	createMessagesTable := `
	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		FOREIGN KEY(session_id) REFERENCES sessions(id)
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);`

	if _, err := s.db.Exec(createSessionsTable); err != nil {
		return fmt.Errorf("failed to create sessions table: %w", err)
	}
	if _, err := s.db.Exec(createMessagesTable); err != nil {
		return fmt.Errorf("failed to create messages table: %w", err)
	}
	return nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTurn stores a turn, creating the session row on first use
func (s *Store) RecordTurn(ctx context.Context, sess session.Session, turn session.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO sessions (id, start_time, backend, model) VALUES (?, ?, ?, ?)",
		sess.ID, sess.StartTime.UnixNano(), sess.Backend, sess.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)",
		sess.ID, string(turn.Role), turn.Text, turn.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.Debug("turn recorded", "session_id", sess.ID, "role", turn.Role)
	return nil
}

// LoadSession returns a stored session and all of its turns in order
func (s *Store) LoadSession(ctx context.Context, sessionID string) (session.Session, []session.Turn, error) {
	var (
		sess      session.Session
		startTime int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, start_time, backend, model FROM sessions WHERE id = ?", sessionID,
	).Scan(&sess.ID, &startTime, &sess.Backend, &sess.Model)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("failed to load session: %w", err)
	}
	sess.StartTime = time.Unix(0, startTime)

	rows, err := s.db.QueryContext(ctx,
		"SELECT role, content, timestamp FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	turns := []session.Turn{}
	for rows.Next() {
		var (
			role string
			turn session.Turn
			ts   int64
		)
		if err := rows.Scan(&role, &turn.Text, &ts); err != nil {
			return session.Session{}, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		turn.Role = session.Role(role)
		turn.Timestamp = time.Unix(0, ts)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return session.Session{}, nil, fmt.Errorf("failed to read messages: %w", err)
	}

	return sess, turns, nil
}

// ListSessions returns the most recent sessions first
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time, s.backend, s.model, COUNT(m.id)
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.id
		GROUP BY s.id
		ORDER BY s.start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum       Summary
			startTime int64
		)
		if err := rows.Scan(&sum.ID, &startTime, &sum.Backend, &sum.Model, &sum.Turns); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sum.StartTime = time.Unix(0, startTime)
		out = append(out, sum)
	}
	return out, rows.Err()
}
