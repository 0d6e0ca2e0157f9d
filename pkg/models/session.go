// Package models defines the domain types shared across the orchestrator:
// sessions, plans, step results, and research results.
package models

import "time"

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

const (
	SessionStatusPlanning  SessionStatus = "planning"
	SessionStatusExecuting SessionStatus = "executing"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed
}

// Session is the runtime state of a single research run. It is owned
// exclusively by the orchestrator and lives until the process exits; the
// session's events and final result are what persist.
type Session struct {
	LogID      string          `json:"log_id"`
	Query      string          `json:"query"`
	Status     SessionStatus   `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Plan       *Plan           `json:"plan,omitempty"`
	Result     *ResearchResult `json:"result,omitempty"`
}
