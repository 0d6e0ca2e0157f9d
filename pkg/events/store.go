package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store persists envelopes to the events table and reads them back for the
// log-reader endpoint. Appends come from the coordinator's writer goroutine;
// reads come from API handlers.
type Store struct {
	db *sql.DB
}

// NewStore creates an event store on an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts one envelope. The payload is stored as JSONB so the
// log-reader endpoint can return it verbatim.
func (s *Store) Append(ctx context.Context, env *Envelope) error {
	payload, err := json.Marshal(env.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, log_id, event_type, plan_id, phase_id, step_id, data, timestamp)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8)`,
		env.ID, env.LogID, env.EventType, env.PlanID, env.PhaseID, env.StepID,
		payload, env.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// ListByLog returns all persisted events for a session in insertion order.
// The payload is returned as raw JSON; callers forward it without decoding.
func (s *Store) ListByLog(ctx context.Context, logID string) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, log_id, event_type,
		       COALESCE(plan_id, ''), COALESCE(phase_id, ''), COALESCE(step_id, ''),
		       data, timestamp
		FROM events
		WHERE log_id = $1
		ORDER BY seq`,
		logID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var ev StoredEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.LogID, &ev.EventType,
			&ev.PlanID, &ev.PhaseID, &ev.StepID, &payload, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Data = json.RawMessage(payload)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes persisted events older than the TTL and returns
// the number of rows removed. Used by the retention sweeper.
func (s *Store) DeleteOlderThan(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE timestamp < $1`, time.Now().UTC().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	return n, nil
}

// CountByLog returns the number of persisted events for a session.
func (s *Store) CountByLog(ctx context.Context, logID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE log_id = $1`, logID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// StoredEvent is a persisted event as returned by the log reader. Data holds
// the payload exactly as it was appended.
type StoredEvent struct {
	ID        string          `json:"id"`
	LogID     string          `json:"logId"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"eventType"`
	PlanID    string          `json:"planId,omitempty"`
	PhaseID   string          `json:"phaseId,omitempty"`
	StepID    string          `json:"stepId,omitempty"`
	Data      json.RawMessage `json:"data"`
}
