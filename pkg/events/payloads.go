package events

import "github.com/delvekit/delve/pkg/models"

// Each event type has a fixed payload shape. Producers construct these
// structs and consumers destructure them statically; there is no dynamic
// field access on event data.

// SessionStartedPayload is the payload for session_started.
type SessionStartedPayload struct {
	Query string `json:"query"`
}

// SessionCompletedPayload is the payload for session_completed.
type SessionCompletedPayload struct{}

// SessionFailedPayload is the payload for session_failed.
type SessionFailedPayload struct {
	Error string `json:"error"`
}

// PlanningStartedPayload is the payload for planning_started.
type PlanningStartedPayload struct{}

// PlanningIterationPayload is the payload for planning_iteration.
type PlanningIterationPayload struct {
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"maxIterations"`
}

// PlanPhaseSummary is one phase entry inside plan_created.
type PlanPhaseSummary struct {
	PhaseID   string `json:"phaseId"`
	Name      string `json:"name"`
	StepCount int    `json:"stepCount"`
	Order     int    `json:"order"`
}

// PlanCreatedPayload is the payload for plan_created.
type PlanCreatedPayload struct {
	PlanID      string             `json:"planId"`
	Query       string             `json:"query"`
	TotalPhases int                `json:"totalPhases"`
	Phases      []PlanPhaseSummary `json:"phases"`
}

// PhaseAddedPayload is the payload for phase_added.
type PhaseAddedPayload struct {
	PhaseID string `json:"phaseId"`
	Name    string `json:"name"`
}

// StepAddedPayload is the payload for step_added.
type StepAddedPayload struct {
	StepID   string `json:"stepId"`
	ToolName string `json:"toolName"`
}

// DecompositionStartedPayload is the payload for decomposition_started.
type DecompositionStartedPayload struct {
	Query string `json:"query"`
}

// SubQueryIdentifiedPayload is the payload for sub_query_identified.
type SubQueryIdentifiedPayload struct {
	SubQueryID string `json:"subQueryId"`
	Text       string `json:"text"`
	Type       string `json:"type"`
	Priority   string `json:"priority"`
	Complexity int    `json:"complexity"`
}

// DecompositionCompletedPayload is the payload for decomposition_completed.
type DecompositionCompletedPayload struct {
	IsComplex       bool   `json:"isComplex"`
	SubQueryCount   int    `json:"subQueryCount"`
	ExecutionPhases int    `json:"executionPhases"`
	DurationMs      int64  `json:"durationMs"`
	Error           string `json:"error,omitempty"`
}

// PhaseStartedPayload is the payload for phase_started.
type PhaseStartedPayload struct {
	PhaseID       string `json:"phaseId"`
	PhaseName     string `json:"phaseName"`
	StepCount     int    `json:"stepCount"`
	SubQueryCount int    `json:"subQueryCount,omitempty"`
	IsDecomposed  bool   `json:"isDecomposed,omitempty"`
}

// PhaseCompletedPayload is the payload for phase_completed.
type PhaseCompletedPayload struct {
	PhaseID        string `json:"phaseId"`
	StepsCompleted int    `json:"stepsCompleted"`
}

// PhaseFailedPayload is the payload for phase_failed.
type PhaseFailedPayload struct {
	PhaseID string `json:"phaseId"`
	StepID  string `json:"stepId"`
	Error   string `json:"error"`
}

// StepStartedPayload is the payload for step_started.
type StepStartedPayload struct {
	StepID   string         `json:"stepId"`
	ToolName string         `json:"toolName"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config"`
}

// StepCompletedPayload is the payload for step_completed.
type StepCompletedPayload struct {
	StepID     string         `json:"stepId"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input"`
	Output     any            `json:"output,omitempty"`
	TokensUsed int            `json:"tokensUsed,omitempty"`
	DurationMs int64          `json:"durationMs"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// StepErrorInfo describes a step failure inside step_failed.
type StepErrorInfo struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// StepFailedPayload is the payload for step_failed.
type StepFailedPayload struct {
	StepID     string         `json:"stepId"`
	ToolName   string         `json:"toolName"`
	Input      map[string]any `json:"input"`
	Error      StepErrorInfo  `json:"error"`
	DurationMs int64          `json:"durationMs"`
}

// MilestonePayload is the payload for milestone_started, milestone_progress,
// and milestone_completed.
type MilestonePayload struct {
	MilestoneID  string            `json:"milestoneId"`
	TemplateID   string            `json:"templateId"`
	Stage        int               `json:"stage"`
	Description  string            `json:"description"`
	Template     string            `json:"template"`
	TemplateData map[string]string `json:"templateData,omitempty"`
	Progress     float64           `json:"progress"`
	Status       string            `json:"status"`
}

// EvaluationStartedPayload is the payload for evaluation_started.
type EvaluationStartedPayload struct {
	Phase string `json:"phase"`
	Query string `json:"query,omitempty"`
}

// EvaluationCompletedPayload is the payload for evaluation_completed.
type EvaluationCompletedPayload struct {
	Phase                 string             `json:"phase"`
	Passed                bool               `json:"passed"`
	Scores                map[string]float64 `json:"scores"`
	Confidence            *float64           `json:"confidence,omitempty"`
	TotalIterations       int                `json:"totalIterations"`
	EscalatedToLargeModel bool               `json:"escalatedToLargeModel"`
	EvaluationSkipped     bool               `json:"evaluationSkipped"`
	SkipReason            string             `json:"skipReason,omitempty"`
}

// EvaluationFailedPayload is the payload for evaluation_failed.
type EvaluationFailedPayload struct {
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// FinalSynthesisStartedPayload is the payload for final_synthesis_started.
type FinalSynthesisStartedPayload struct {
	PhaseID       string `json:"phaseId"`
	SubQueryCount int    `json:"subQueryCount"`
}

// FinalSynthesisCompletedPayload is the payload for final_synthesis_completed.
type FinalSynthesisCompletedPayload struct {
	PhaseID       string `json:"phaseId"`
	AnswerLength  int    `json:"answerLength"`
	SubQueryCount int    `json:"subQueryCount"`
}

// ConfidenceScoringPayload is the payload for confidence_scoring_started,
// confidence_scoring_completed (Confidence set), and
// confidence_scoring_failed (Error set).
type ConfidenceScoringPayload struct {
	PhaseName  string   `json:"phaseName"`
	PhaseID    string   `json:"phaseId"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ReflectionPayload is the payload for the reflection_integration_* events.
type ReflectionPayload struct {
	PhaseID   string `json:"phaseId"`
	Iteration int    `json:"iteration,omitempty"`
	Error     string `json:"error,omitempty"`
}

// EventsDroppedPayload is the payload for the events_dropped marker.
type EventsDroppedPayload struct {
	Count int `json:"count"`
}

// NewEvaluationCompletedPayload maps an EvaluationResult to its event payload.
func NewEvaluationCompletedPayload(r *models.EvaluationResult) EvaluationCompletedPayload {
	return EvaluationCompletedPayload{
		Phase:                 string(r.Phase),
		Passed:                r.Passed(),
		Scores:                r.Scores,
		Confidence:            r.Confidence,
		TotalIterations:       r.TotalIterations,
		EscalatedToLargeModel: r.EscalatedToLargeModel,
		EvaluationSkipped:     r.Status == models.EvaluationStatusSkipped,
		SkipReason:            r.SkipReason,
	}
}
