package models

import "time"

// PhaseStatus is the shared status lattice for plans, phases, and steps.
// Transitions are pending → running → (completed | failed | skipped) with
// no back-edges.
type PhaseStatus string

const (
	StatusPending   PhaseStatus = "pending"
	StatusRunning   PhaseStatus = "running"
	StatusCompleted PhaseStatus = "completed"
	StatusFailed    PhaseStatus = "failed"
	StatusSkipped   PhaseStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s PhaseStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// StepType distinguishes tool invocations from direct LLM calls.
type StepType string

const (
	StepTypeToolCall StepType = "tool_call"
	StepTypeLLMCall  StepType = "llm_call"
)

// Plan is an ordered sequence of phases produced by the planner for a
// session. Phase order is a dense strictly-increasing sequence starting at 1.
type Plan struct {
	ID        string      `json:"id"`
	Query     string      `json:"query"`
	Phases    []*Phase    `json:"phases"`
	Status    PhaseStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`

	// Decomposition is set when the planner decomposed the query; it is
	// carried into the result metadata.
	Decomposition *DecompositionResult `json:"decomposition,omitempty"`
}

// Phase is a named ordered group of steps; the scheduling unit of execution.
type Phase struct {
	ID               string      `json:"id"`
	PlanID           string      `json:"plan_id"`
	Name             string      `json:"name"`
	Description      string      `json:"description,omitempty"`
	Status           PhaseStatus `json:"status"`
	Steps            []*Step     `json:"steps"`
	ReplanCheckpoint bool        `json:"replan_checkpoint"`
	Order            int         `json:"order"`

	// SubQueryCount and IsDecomposed annotate phases produced from a
	// decomposed query (for phase_started payloads).
	SubQueryCount int  `json:"sub_query_count,omitempty"`
	IsDecomposed  bool `json:"is_decomposed,omitempty"`
}

// Step is the smallest executable unit, bound to a tool or LLM call.
// Dependencies reference step IDs within the same phase.
type Step struct {
	ID           string         `json:"id"`
	PhaseID      string         `json:"phase_id"`
	Type         StepType       `json:"type"`
	ToolName     string         `json:"tool_name"`
	Config       map[string]any `json:"config,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       PhaseStatus    `json:"status"`
	Order        int            `json:"order"`
}
