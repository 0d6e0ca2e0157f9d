package models

// EvaluationPhase names the rubric under evaluation.
type EvaluationPhase string

const (
	EvaluationPhasePlan      EvaluationPhase = "plan"
	EvaluationPhaseRetrieval EvaluationPhase = "retrieval"
	EvaluationPhaseAnswer    EvaluationPhase = "answer"
)

// EvaluationStatus is the lifecycle state of a rubric evaluation.
type EvaluationStatus string

const (
	EvaluationStatusInProgress EvaluationStatus = "in_progress"
	EvaluationStatusPassed     EvaluationStatus = "passed"
	EvaluationStatusFailed     EvaluationStatus = "failed"
	EvaluationStatusSkipped    EvaluationStatus = "skipped"
)

// EvaluationResult is the aggregate outcome of a bounded rubric evaluation.
// Scores map dimension names to values in [0,1]; the last role to emit a
// dimension owns its value.
type EvaluationResult struct {
	Phase                 EvaluationPhase    `json:"phase"`
	Status                EvaluationStatus   `json:"status"`
	Scores                map[string]float64 `json:"scores"`
	Confidence            *float64           `json:"confidence,omitempty"`
	TotalIterations       int                `json:"total_iterations,omitempty"`
	EscalatedToLargeModel bool               `json:"escalated_to_large_model,omitempty"`
	SkipReason            string             `json:"skip_reason,omitempty"`
}

// Passed reports whether the evaluation ended in the passed state.
func (r *EvaluationResult) Passed() bool {
	return r != nil && r.Status == EvaluationStatusPassed
}
