package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/models"
)

// recordingAppender captures appended envelopes for assertions.
type recordingAppender struct {
	mu   sync.Mutex
	envs []*Envelope
	err  error
}

func (r *recordingAppender) Append(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.envs = append(r.envs, env)
	return nil
}

func (r *recordingAppender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func TestEmitDeliversToSessionSubscriber(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	c.Emit("log-1", EventSessionStarted, SessionStartedPayload{Query: "test query"})

	select {
	case env := <-sub.Events():
		assert.Equal(t, "log-1", env.LogID)
		assert.Equal(t, EventSessionStarted, env.EventType)
		payload, ok := env.Data.(SessionStartedPayload)
		require.True(t, ok)
		assert.Equal(t, "test query", payload.Query)
		assert.NotEmpty(t, env.ID)
		assert.False(t, env.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestEmitDoesNotCrossSessions(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	other := c.Subscribe("log-other")
	defer c.Unsubscribe(other)

	c.Emit("log-1", EventSessionStarted, SessionStartedPayload{Query: "q"})

	select {
	case env := <-other.Events():
		t.Fatalf("unexpected event delivered across sessions: %s", env.EventType)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGlobalChannelReceivesAllSessions(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	global := c.Subscribe(GlobalChannel)
	defer c.Unsubscribe(global)

	c.Emit("log-a", EventSessionStarted, SessionStartedPayload{Query: "a"})
	c.Emit("log-b", EventSessionStarted, SessionStartedPayload{Query: "b"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case env := <-global.Events():
			seen[env.LogID] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for global events")
		}
	}
	assert.True(t, seen["log-a"])
	assert.True(t, seen["log-b"])
}

func TestEmitOrderPreservedPerSubscriber(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	const n = 100
	for i := 0; i < n; i++ {
		c.Emit("log-1", EventStepCompleted, StepCompletedPayload{
			StepID: fmt.Sprintf("step-%03d", i),
		})
	}

	var last time.Time
	for i := 0; i < n; i++ {
		select {
		case env := <-sub.Events():
			payload := env.Data.(StepCompletedPayload)
			assert.Equal(t, fmt.Sprintf("step-%03d", i), payload.StepID)
			assert.True(t, env.Timestamp.After(last),
				"timestamps must be strictly increasing")
			last = env.Timestamp
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestSlowSubscriberDropsFromHeadWithMarker(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	// Overfill the buffer without receiving. The oldest events must be
	// evicted, markers must report every drop exactly once, and the newest
	// event must arrive after a marker.
	total := subscriberBuffer + 50
	for i := 0; i < total; i++ {
		c.Emit("log-1", EventStepCompleted, StepCompletedPayload{
			StepID: fmt.Sprintf("step-%04d", i),
		})
	}

	var droppedCount int
	var markerSeen bool
	var lastStepID string
	received := 0
	for {
		select {
		case env := <-sub.Events():
			if env.EventType == EventDropped {
				markerSeen = true
				droppedCount += env.Data.(EventsDroppedPayload).Count
				continue
			}
			require.True(t, markerSeen || received < subscriberBuffer,
				"events past the buffer must be preceded by a marker")
			lastStepID = env.Data.(StepCompletedPayload).StepID
			received++
		case <-time.After(100 * time.Millisecond):
			require.True(t, markerSeen, "expected an events_dropped marker")
			assert.Positive(t, droppedCount)
			// Everything that was not dropped must still arrive exactly
			// once, and the newest event is never the one sacrificed.
			assert.Equal(t, total-droppedCount, received)
			assert.Equal(t, fmt.Sprintf("step-%04d", total-1), lastStepID)
			return
		}
	}
}

func TestEmitNeverBlocksOnSlowSubscriber(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			c.Emit("log-1", EventStepStarted, StepStartedPayload{StepID: "s"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked on a subscriber that never receives")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	assert.Equal(t, 1, c.SubscriberCount("log-1"))

	c.Unsubscribe(sub)
	assert.Equal(t, 0, c.SubscriberCount("log-1"))

	_, open := <-sub.Events()
	assert.False(t, open, "channel must be closed after unsubscribe")

	// Emitting after unsubscribe must not panic.
	c.Emit("log-1", EventSessionCompleted, SessionCompletedPayload{})
	c.Unsubscribe(sub) // idempotent
}

func TestPersistenceIsAsyncAndFailureTolerant(t *testing.T) {
	store := &recordingAppender{}
	c := NewCoordinator(store)

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	c.Emit("log-1", EventSessionStarted, SessionStartedPayload{Query: "q"})

	// Live delivery must not wait on the append path.
	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("live delivery gated on persistence")
	}

	// Close drains the queue, so the append is durable afterwards.
	c.Close()
	assert.Equal(t, 1, store.count())

	// A failing store must not break publication.
	failing := &recordingAppender{err: fmt.Errorf("db down")}
	c2 := NewCoordinator(failing)
	defer c2.Close()

	sub2 := c2.Subscribe("log-2")
	defer c2.Unsubscribe(sub2)
	c2.Emit("log-2", EventSessionFailed, SessionFailedPayload{Error: "boom"})

	select {
	case env := <-sub2.Events():
		assert.Equal(t, EventSessionFailed, env.EventType)
	case <-time.After(time.Second):
		t.Fatal("event lost when persistence fails")
	}
}

func TestEmitOptionsSetRoutingFields(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	c.Emit("log-1", EventStepStarted, StepStartedPayload{StepID: "s1"},
		WithPlanID("plan-1"), WithPhaseID("ph-1"), WithStepID("s1"))

	env := <-sub.Events()
	assert.Equal(t, "plan-1", env.PlanID)
	assert.Equal(t, "ph-1", env.PhaseID)
	assert.Equal(t, "s1", env.StepID)
}

func TestPhaseHelpers(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	sub := c.Subscribe("log-1")
	defer c.Unsubscribe(sub)

	phase := &models.Phase{
		ID:     "ph-1",
		PlanID: "plan-1",
		Name:   "Initial Search",
		Steps:  []*models.Step{{ID: "s1"}, {ID: "s2"}},
	}

	c.EmitPhaseStarted("log-1", phase)
	env := <-sub.Events()
	assert.Equal(t, EventPhaseStarted, env.EventType)
	started := env.Data.(PhaseStartedPayload)
	assert.Equal(t, "Initial Search", started.PhaseName)
	assert.Equal(t, 2, started.StepCount)
	assert.Equal(t, "plan-1", env.PlanID)

	c.EmitPhaseCompleted("log-1", phase, 2)
	env = <-sub.Events()
	assert.Equal(t, EventPhaseCompleted, env.EventType)
	assert.Equal(t, 2, env.Data.(PhaseCompletedPayload).StepsCompleted)

	c.EmitPhaseFailed("log-1", phase, "s2", "tool timeout")
	env = <-sub.Events()
	assert.Equal(t, EventPhaseFailed, env.EventType)
	failed := env.Data.(PhaseFailedPayload)
	assert.Equal(t, "s2", failed.StepID)
	assert.Equal(t, "tool timeout", failed.Error)
	assert.Equal(t, "s2", env.StepID)
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	c := NewCoordinator(nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			logID := fmt.Sprintf("log-%d", n%4)
			sub := c.Subscribe(logID)
			for j := 0; j < 50; j++ {
				c.Emit(logID, EventStepCompleted, StepCompletedPayload{StepID: "s"})
			}
			c.Unsubscribe(sub)
		}(i)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent emit/subscribe deadlocked")
	}
}
