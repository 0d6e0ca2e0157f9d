package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/delvekit/delve/pkg/models"
)

// subscriberBuffer is the per-subscriber channel capacity. When a
// subscriber's buffer is full, the oldest buffered event is dropped and an
// events_dropped marker is injected once space frees up.
const subscriberBuffer = 256

// persistQueueSize bounds the async persistence queue. Appends beyond this
// are dropped with a warning — live delivery is never gated on persistence.
const persistQueueSize = 1024

// persistTimeout bounds a single event row insert.
const persistTimeout = 5 * time.Second

// Envelope is the wire form of a single event: routing fields plus the
// typed payload. Data is one of the payload structs in payloads.go.
type Envelope struct {
	ID        string    `json:"id"`
	LogID     string    `json:"logId"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"eventType"`
	PlanID    string    `json:"planId,omitempty"`
	PhaseID   string    `json:"phaseId,omitempty"`
	StepID    string    `json:"stepId,omitempty"`
	Data      any       `json:"data"`
}

// Appender persists envelopes. Implemented by Store; nil disables
// persistence (tests, dry runs).
type Appender interface {
	Append(ctx context.Context, env *Envelope) error
}

// Coordinator owns the event log append path and the live subscriber set.
// Emit is safe for concurrent use; events emitted for a single session are
// observed by any one subscriber in emit order.
type Coordinator struct {
	store Appender

	mu   sync.RWMutex
	subs map[string]map[string]*Subscription // channel key → subID → sub

	tsMu   sync.Mutex
	lastTS time.Time

	persistCh chan *Envelope
	done      chan struct{}
	wg        sync.WaitGroup
}

// Subscription is a live event stream for one channel. Receive from Events()
// until it is closed; call Unsubscribe to release the slot.
type Subscription struct {
	ID      string
	Channel string

	mu      sync.Mutex
	ch      chan Envelope
	dropped int
	closed  bool
}

// Events returns the subscription's receive channel.
func (s *Subscription) Events() <-chan Envelope {
	return s.ch
}

// push delivers an envelope without ever blocking the producer. On a full
// buffer the oldest buffered events are discarded until the events_dropped
// marker and the new event both fit, so every push makes progress.
func (s *Subscription) push(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if s.dropped == 0 {
		select {
		case s.ch <- env:
			return
		default:
		}
	}

	// Evict until marker+event fit together. push is the only sender and it
	// holds the lock, so freed slots cannot be refilled underneath us; a
	// concurrent receiver only frees more.
	for cap(s.ch)-len(s.ch) < 2 {
		if !s.evictOne() {
			break
		}
	}
	if s.dropped > 0 {
		s.ch <- Envelope{
			ID:        uuid.NewString(),
			LogID:     env.LogID,
			Timestamp: env.Timestamp,
			EventType: EventDropped,
			Data:      EventsDroppedPayload{Count: s.dropped},
		}
		s.dropped = 0
	}
	s.ch <- env
}

// evictOne discards the oldest buffered event, if any, and reports whether
// one was discarded. An evicted marker folds its count back into dropped so
// the total never under- or over-reports.
func (s *Subscription) evictOne() bool {
	select {
	case ev := <-s.ch:
		if ev.EventType == EventDropped {
			s.dropped += ev.Data.(EventsDroppedPayload).Count
		} else {
			s.dropped++
		}
		return true
	default:
		return false
	}
}

// NewCoordinator creates a coordinator and starts its persistence writer.
// store may be nil, in which case events are delivered live only.
func NewCoordinator(store Appender) *Coordinator {
	c := &Coordinator{
		store:     store,
		subs:      make(map[string]map[string]*Subscription),
		persistCh: make(chan *Envelope, persistQueueSize),
		done:      make(chan struct{}),
	}
	c.wg.Add(1)
	go c.persistLoop()
	return c
}

// Close drains the persistence queue and stops the writer. Subscriptions
// remain open; callers unsubscribe independently.
func (c *Coordinator) Close() {
	close(c.done)
	c.wg.Wait()
}

// EmitOption attaches optional routing fields to an emitted event.
type EmitOption func(*Envelope)

// WithPlanID sets the envelope's planId.
func WithPlanID(planID string) EmitOption {
	return func(e *Envelope) { e.PlanID = planID }
}

// WithPhaseID sets the envelope's phaseId.
func WithPhaseID(phaseID string) EmitOption {
	return func(e *Envelope) { e.PhaseID = phaseID }
}

// WithStepID sets the envelope's stepId.
func WithStepID(stepID string) EmitOption {
	return func(e *Envelope) { e.StepID = stepID }
}

// Emit assigns a monotonic timestamp, queues the event for durable append,
// and publishes it to all subscribers of the session channel and the global
// channel. Persistence failures never block publication; the next Emit is
// not gated on the previous append.
func (c *Coordinator) Emit(logID, eventType string, data any, opts ...EmitOption) {
	env := Envelope{
		ID:        uuid.NewString(),
		LogID:     logID,
		Timestamp: c.nextTimestamp(),
		EventType: eventType,
		Data:      data,
	}
	for _, opt := range opts {
		opt(&env)
	}

	if c.store != nil {
		envCopy := env
		select {
		case c.persistCh <- &envCopy:
		default:
			slog.Warn("Event persistence queue full, dropping append",
				"log_id", logID, "event_type", eventType)
		}
	}

	c.mu.RLock()
	targets := make([]*Subscription, 0, 4)
	for _, sub := range c.subs[logID] {
		targets = append(targets, sub)
	}
	for _, sub := range c.subs[GlobalChannel] {
		targets = append(targets, sub)
	}
	c.mu.RUnlock()

	for _, sub := range targets {
		sub.push(env)
	}
}

// Subscribe registers a live subscriber for the given logId (or
// GlobalChannel). The stream starts at the first event emitted after
// subscription; clients needing backfill use the log-reader endpoint.
func (c *Coordinator) Subscribe(logID string) *Subscription {
	sub := &Subscription{
		ID:      uuid.NewString(),
		Channel: logID,
		ch:      make(chan Envelope, subscriberBuffer),
	}

	c.mu.Lock()
	if c.subs[logID] == nil {
		c.subs[logID] = make(map[string]*Subscription)
	}
	c.subs[logID][sub.ID] = sub
	c.mu.Unlock()

	return sub
}

// Unsubscribe releases a subscriber slot promptly. Buffered events are
// dropped and the subscription channel is closed.
func (c *Coordinator) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	c.mu.Lock()
	if m, ok := c.subs[sub.Channel]; ok {
		delete(m, sub.ID)
		if len(m) == 0 {
			delete(c.subs, sub.Channel)
		}
	}
	c.mu.Unlock()

	sub.mu.Lock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
	sub.mu.Unlock()
}

// SubscriberCount returns the number of live subscribers for a channel.
func (c *Coordinator) SubscriberCount(logID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs[logID])
}

// nextTimestamp returns a strictly increasing timestamp so that events for a
// session are totally ordered even when emitted within the same clock tick.
func (c *Coordinator) nextTimestamp() time.Time {
	c.tsMu.Lock()
	defer c.tsMu.Unlock()
	ts := time.Now().UTC()
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Microsecond)
	}
	c.lastTS = ts
	return ts
}

func (c *Coordinator) persistLoop() {
	defer c.wg.Done()
	for {
		select {
		case env := <-c.persistCh:
			c.append(env)
		case <-c.done:
			// Drain whatever is queued before stopping.
			for {
				select {
				case env := <-c.persistCh:
					c.append(env)
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) append(env *Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Append(ctx, env); err != nil {
		slog.Warn("Failed to persist event",
			"log_id", env.LogID, "event_type", env.EventType, "error", err)
	}
}

// ────────────────────────────────────────────────────────────
// Named phase helpers
// ────────────────────────────────────────────────────────────

// EmitPhaseStarted publishes phase_started populated from a phase value.
func (c *Coordinator) EmitPhaseStarted(logID string, phase *models.Phase) {
	c.Emit(logID, EventPhaseStarted, PhaseStartedPayload{
		PhaseID:       phase.ID,
		PhaseName:     phase.Name,
		StepCount:     len(phase.Steps),
		SubQueryCount: phase.SubQueryCount,
		IsDecomposed:  phase.IsDecomposed,
	}, WithPlanID(phase.PlanID), WithPhaseID(phase.ID))
}

// EmitPhaseCompleted publishes phase_completed with the completed step count.
func (c *Coordinator) EmitPhaseCompleted(logID string, phase *models.Phase, stepsCompleted int) {
	c.Emit(logID, EventPhaseCompleted, PhaseCompletedPayload{
		PhaseID:        phase.ID,
		StepsCompleted: stepsCompleted,
	}, WithPlanID(phase.PlanID), WithPhaseID(phase.ID))
}

// EmitPhaseFailed publishes phase_failed with the failing step and error.
func (c *Coordinator) EmitPhaseFailed(logID string, phase *models.Phase, stepID, errMsg string) {
	c.Emit(logID, EventPhaseFailed, PhaseFailedPayload{
		PhaseID: phase.ID,
		StepID:  stepID,
		Error:   errMsg,
	}, WithPlanID(phase.PlanID), WithPhaseID(phase.ID), WithStepID(stepID))
}
