package session

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single chat message. Turns are values and are never mutated after creation.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTurn creates a turn stamped with the current time
func NewTurn(role Role, text string) Turn {
	return Turn{Role: role, Text: text, Timestamp: time.Now()}
}

// Session describes a chat session. The turns themselves live in a History.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Backend   string    `json:"backend"`
	Model     string    `json:"model"`
}

// New creates session metadata with a fresh time-ordered identifier
func New(backend, model string) Session {
	return Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		StartTime: time.Now(),
		Backend:   backend,
		Model:     model,
	}
}
