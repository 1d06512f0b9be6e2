// Package httpapi exposes a chat session over a small local HTTP API and a
// WebSocket, as an alternative front end to the terminal.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"LocalChat/internal/backend"
	"LocalChat/internal/chat"
	"LocalChat/internal/session"
)

// Controller is the part of chat.Controller the API drives
type Controller interface {
	Submit(ctx context.Context, text string) (session.Turn, error)
	Clear() error
	Export(path string) error
	Snapshot() []session.Turn
	State() chat.State
	Session() session.Session
	HistoryLength() int
}

// Server routes HTTP requests to a Controller
type Server struct {
	ctrl      Controller
	exportDir string
	logger    *slog.Logger
	upgrader websocket.Upgrader
	router   chi.Router
}

// New creates a Server for ctrl. Exports requested over HTTP are written
// inside exportDir only.
func New(ctrl Controller, exportDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctrl:      ctrl,
		exportDir: exportDir,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		// Non-JSON bodies would let a plain cross-site form post skip the CORS preflight.
		r.Use(chiMiddleware.AllowContentType("application/json"))
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Delete("/history", s.handleClear)
		r.Post("/messages", s.handleSubmit)
		r.Post("/export", s.handleExport)
	})
	r.Get("/ws", s.handleWebSocket)

	s.router = r
	return s
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// generation on CPU can take minutes; no write timeout
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	SessionID     string `json:"session_id"`
	Backend       string `json:"backend"`
	Model         string `json:"model"`
	State         string `json:"state"`
	Turns         int    `json:"turns"`
	HistoryLength int    `json:"history_length"`
}

// HistoryResponse is returned by GET /api/history
type HistoryResponse struct {
	Turns []session.Turn `json:"turns"`
}

// MessageRequest is the body of POST /api/messages and of WebSocket frames
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse carries the assistant's reply or an error
type MessageResponse struct {
	Turn  *session.Turn `json:"turn,omitempty"`
	Error string        `json:"error,omitempty"`
}

// ExportRequest is the body of POST /api/export. Path is a file name
// relative to the server's export directory.
type ExportRequest struct {
	Path string `json:"path"`
}

// ExportResponse reports where the history was written
type ExportResponse struct {
	Path string `json:"path"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.ctrl.Session()
	writeJSON(w, http.StatusOK, StatusResponse{
		SessionID:     sess.ID,
		Backend:       sess.Backend,
		Model:         sess.Model,
		State:         s.ctrl.State().String(),
		Turns:         len(s.ctrl.Snapshot()),
		HistoryLength: s.ctrl.HistoryLength(),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HistoryResponse{Turns: s.ctrl.Snapshot()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Clear(); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	turn, err := s.ctrl.Submit(r.Context(), req.Text)
	if err != nil {
		writeJSON(w, statusFor(err), MessageResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Turn: &turn})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	if s.exportDir == "" || !filepath.IsLocal(req.Path) {
		writeError(w, http.StatusBadRequest, "path must be a relative file name inside the export directory")
		return
	}

	path := filepath.Join(s.exportDir, req.Path)
	if err := s.ctrl.Export(path); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ExportResponse{Path: path})
}

// handleWebSocket reads MessageRequest frames and answers each with a MessageResponse
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	s.logger.Info("websocket connected", "remote", r.RemoteAddr)

	for {
		var req MessageRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket read failed", "error", err)
			}
			return
		}

		var resp MessageResponse
		turn, err := s.ctrl.Submit(r.Context(), req.Text)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Turn = &turn
		}

		if err := conn.WriteJSON(resp); err != nil {
			s.logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", chiMiddleware.GetReqID(r.Context()),
		)
	})
}

// statusFor maps controller errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case backend.IsBackendError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
