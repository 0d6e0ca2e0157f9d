package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/database"
)

func testEnvelope(logID, eventType string, ts time.Time) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		LogID:     logID,
		Timestamp: ts,
		EventType: eventType,
		Data:      SessionStartedPayload{Query: "q"},
	}
}

func TestStoreAppendAndListByLog(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db := database.NewTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.Append(ctx, testEnvelope("log-1", EventSessionStarted, base)))
	require.NoError(t, store.Append(ctx, &Envelope{
		ID:        uuid.NewString(),
		LogID:     "log-1",
		Timestamp: base.Add(time.Millisecond),
		EventType: EventPlanCreated,
		PlanID:    uuid.NewString(),
		Data:      map[string]any{"totalPhases": 2},
	}))
	require.NoError(t, store.Append(ctx, testEnvelope("log-2", EventSessionStarted, base)))

	history, err := store.ListByLog(ctx, "log-1")
	require.NoError(t, err)
	require.Len(t, history, 2)

	// Insertion order, session isolation, payload round-trip.
	assert.Equal(t, EventSessionStarted, history[0].EventType)
	assert.Equal(t, EventPlanCreated, history[1].EventType)
	assert.NotEmpty(t, history[1].PlanID)
	assert.Empty(t, history[0].PlanID)

	var payload SessionStartedPayload
	require.NoError(t, json.Unmarshal(history[0].Data, &payload))
	assert.Equal(t, "q", payload.Query)

	n, err := store.CountByLog(ctx, "log-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	empty, err := store.ListByLog(ctx, "log-absent")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStoreDeleteOlderThan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	db := database.NewTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.Append(ctx, testEnvelope("log-1", EventSessionStarted, old)))
	require.NoError(t, store.Append(ctx, testEnvelope("log-1", EventSessionCompleted, time.Now().UTC())))

	deleted, err := store.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := store.ListByLog(ctx, "log-1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, EventSessionCompleted, remaining[0].EventType)

	// Idempotent: nothing left past the TTL.
	deleted, err = store.DeleteOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
