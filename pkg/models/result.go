package models

import "time"

// StepResult captures the outcome of a single step execution. Created
// exactly once per step by the phase executor and immutable after creation.
type StepResult struct {
	StepID     string         `json:"step_id"`
	ToolName   string         `json:"tool_name"`
	Status     PhaseStatus    `json:"status"` // completed, failed, skipped
	Input      map[string]any `json:"input,omitempty"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// PhaseResult is the aggregate outcome of a phase: its terminal status plus
// the step results in declaration order. Err carries the first step failure.
type PhaseResult struct {
	PhaseID     string        `json:"phase_id"`
	Status      PhaseStatus   `json:"status"`
	StepResults []*StepResult `json:"step_results"`
	Err         error         `json:"-"`
}

// Source is a cited retrieval source attached to a research result.
type Source struct {
	URL       string  `json:"url"`
	Title     string  `json:"title,omitempty"`
	Relevance float64 `json:"relevance,omitempty"`
}

// PhaseTiming records per-phase wall-clock execution time.
type PhaseTiming struct {
	Phase           string `json:"phase"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// ResultMetadata is the metadata envelope persisted with a research result.
type ResultMetadata struct {
	TotalExecutionTimeMs int64                `json:"total_execution_time_ms"`
	Phases               []PhaseTiming        `json:"phases"`
	Decomposition        *DecompositionResult `json:"decomposition,omitempty"`
	ReflectionIterations int                  `json:"reflection_iterations,omitempty"`
	EvaluationWarnings   []string             `json:"evaluation_warnings,omitempty"`
}

// ResearchResult is the persisted terminal output of a successful session.
// Written at most once per session.
type ResearchResult struct {
	ID         string         `json:"id"`
	LogID      string         `json:"log_id"`
	PlanID     string         `json:"plan_id"`
	Query      string         `json:"query"`
	Answer     string         `json:"answer"`
	Sources    []Source       `json:"sources"`
	Metadata   ResultMetadata `json:"metadata"`
	Confidence *float64       `json:"confidence,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
