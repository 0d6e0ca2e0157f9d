package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delvekit/delve/pkg/models"
)

// ErrEmptyQuery rejects session starts with no query text.
var ErrEmptyQuery = errors.New("query must not be empty")

// DefaultMaxConcurrentSessions bounds simultaneously executing sessions.
const DefaultMaxConcurrentSessions = 4

// Config controls the runner.
type Config struct {
	MaxConcurrentSessions int `yaml:"maxConcurrentSessions"`
}

// Runner accepts queries, tracks live sessions, and executes them on a
// bounded worker pool. Sessions are not tied to subscribers: once started,
// a session runs to completion whether or not anyone is watching.
type Runner struct {
	controller *Controller
	slots      chan struct{}

	mu       sync.RWMutex
	sessions map[string]*sessionHandle

	wg sync.WaitGroup
}

type sessionHandle struct {
	session *models.Session
	cancel  context.CancelFunc
}

// NewRunner creates a session runner.
func NewRunner(controller *Controller, cfg Config) *Runner {
	n := cfg.MaxConcurrentSessions
	if n <= 0 {
		n = DefaultMaxConcurrentSessions
	}
	return &Runner{
		controller: controller,
		slots:      make(chan struct{}, n),
		sessions:   make(map[string]*sessionHandle),
	}
}

// StartSession mints a logId and launches the session asynchronously,
// returning immediately. The session waits for a pool slot before planning
// begins.
func (r *Runner) StartSession(query string) (string, error) {
	if query == "" {
		return "", ErrEmptyQuery
	}

	session := &models.Session{
		LogID:     uuid.NewString(),
		Query:     query,
		Status:    models.SessionStatusPlanning,
		StartedAt: time.Now().UTC(),
	}
	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.sessions[session.LogID] = &sessionHandle{session: session, cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()

		r.slots <- struct{}{}
		defer func() { <-r.slots }()

		slog.Info("Session started", "log_id", session.LogID, "query", query)
		r.controller.RunSession(ctx, session)
	}()

	return session.LogID, nil
}

// GetSession returns the live session for a logId, if the process still
// tracks it.
func (r *Runner) GetSession(logID string) (*models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.sessions[logID]
	if !ok {
		return nil, false
	}
	return h.session, true
}

// CancelSession propagates cancellation to a running session's tools.
// In-flight steps record their errors as cancelled.
func (r *Runner) CancelSession(logID string) bool {
	r.mu.RLock()
	h, ok := r.sessions[logID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	h.cancel()
	return true
}

// ActiveCount returns the number of tracked non-terminal sessions.
func (r *Runner) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, h := range r.sessions {
		if !h.session.Status.Terminal() {
			n++
		}
	}
	return n
}

// Wait blocks until all launched sessions finished. Used on shutdown.
func (r *Runner) Wait() {
	r.wg.Wait()
}
