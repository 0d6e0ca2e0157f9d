// Package events provides the event coordinator: durable append of typed
// session events plus fan-out to live subscribers.
//
// Every event emitted during a session is wrapped in an Envelope carrying
// the session logId, a monotonic timestamp, and a typed payload (see
// payloads.go). Envelopes are appended to the events table and published to
// all live subscribers of the session channel and the global channel. The
// producer never blocks on a subscriber: a slow subscriber loses events from
// the head of its buffer and receives an events_dropped marker instead.
package events

// Session lifecycle event types.
const (
	EventSessionStarted   = "session_started"
	EventSessionCompleted = "session_completed"
	EventSessionFailed    = "session_failed"
)

// Planning event types.
const (
	EventPlanningStarted   = "planning_started"
	EventPlanningIteration = "planning_iteration"
	EventPlanCreated       = "plan_created"
	EventPhaseAdded        = "phase_added"
	EventStepAdded         = "step_added"
)

// Decomposition event types.
const (
	EventDecompositionStarted   = "decomposition_started"
	EventSubQueryIdentified     = "sub_query_identified"
	EventDecompositionCompleted = "decomposition_completed"
)

// Execution event types.
const (
	EventPhaseStarted   = "phase_started"
	EventPhaseCompleted = "phase_completed"
	EventPhaseFailed    = "phase_failed"
	EventStepStarted    = "step_started"
	EventStepCompleted  = "step_completed"
	EventStepFailed     = "step_failed"
)

// Milestone event types.
const (
	EventMilestoneStarted   = "milestone_started"
	EventMilestoneProgress  = "milestone_progress"
	EventMilestoneCompleted = "milestone_completed"
)

// Evaluation event types.
const (
	EventEvaluationStarted   = "evaluation_started"
	EventEvaluationCompleted = "evaluation_completed"
	EventEvaluationFailed    = "evaluation_failed"
)

// Synthesis and confidence event types.
const (
	EventFinalSynthesisStarted      = "final_synthesis_started"
	EventFinalSynthesisCompleted    = "final_synthesis_completed"
	EventConfidenceScoringStarted   = "confidence_scoring_started"
	EventConfidenceScoringCompleted = "confidence_scoring_completed"
	EventConfidenceScoringFailed    = "confidence_scoring_failed"
)

// Reflection event types (synthesis executor extension).
const (
	EventReflectionStarted   = "reflection_integration_started"
	EventReflectionCompleted = "reflection_integration_completed"
	EventReflectionFailed    = "reflection_integration_failed"
)

// EventDropped is the marker event injected into a subscriber's stream when
// it could not keep up and events were dropped from its buffer head. It is
// delivered only to the affected subscriber and never persisted.
const EventDropped = "events_dropped"

// GlobalChannel receives a copy of every event regardless of session.
// Session-scoped subscribers use the logId as their channel key.
const GlobalChannel = "*"
