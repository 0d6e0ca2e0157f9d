package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/plan"
	"github.com/delvekit/delve/pkg/tools"
)

// PhaseExecutor runs one phase: dependency-layered batches, concurrent
// steps within a batch, fail-stop between batches.
type PhaseExecutor struct {
	registry   *tools.Registry
	events     *events.Coordinator
	milestones *MilestoneEmitter
}

// NewPhaseExecutor creates a phase executor.
func NewPhaseExecutor(registry *tools.Registry, coordinator *events.Coordinator, milestones *MilestoneEmitter) *PhaseExecutor {
	return &PhaseExecutor{registry: registry, events: coordinator, milestones: milestones}
}

// ExecutePhase runs the phase's steps and returns the aggregate result.
// previousResults carries all StepResults from earlier phases; synthesis
// enrichment additionally observes results from earlier batches of this
// phase. Step errors never escape as Go errors; they become failed
// StepResults inside the returned PhaseResult.
func (e *PhaseExecutor) ExecutePhase(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previousResults []*models.StepResult) *models.PhaseResult {
	phase.Status = models.StatusRunning
	e.events.EmitPhaseStarted(logID, phase)
	e.milestones.EmitMilestonesForPhase(phase, logID, planQuery(p))

	batches, cycled := plan.Layers(phase.Steps,
		func(s *models.Step) string { return s.ID },
		func(s *models.Step) []string { return s.Dependencies })
	if cycled {
		slog.Warn("Cycle among phase steps, running remainder as one batch",
			"log_id", logID, "phase_id", phase.ID)
	}

	accumulated := append([]*models.StepResult(nil), previousResults...)
	var results []*models.StepResult

	for _, batch := range batches {
		batchResults := e.runBatch(ctx, batch, phase, p, logID, accumulated)
		results = append(results, batchResults...)
		accumulated = append(accumulated, batchResults...)

		failed := false
		for _, r := range batchResults {
			if r.Status == models.StatusFailed {
				failed = true
				break
			}
		}
		if failed {
			break
		}
	}

	// Batches run in dependency order; the phase result reports steps in
	// declaration order.
	results = inDeclarationOrder(phase.Steps, results)

	for _, r := range results {
		if r.Status == models.StatusFailed {
			phase.Status = models.StatusFailed
			e.events.EmitPhaseFailed(logID, phase, r.StepID, r.Error)
			return &models.PhaseResult{
				PhaseID:     phase.ID,
				Status:      models.StatusFailed,
				StepResults: results,
				Err:         &StepError{StepID: r.StepID, Message: r.Error},
			}
		}
	}

	phase.Status = models.StatusCompleted
	e.events.EmitPhaseCompleted(logID, phase, len(results))
	e.milestones.EmitPhaseCompletion(phase, logID)
	return &models.PhaseResult{
		PhaseID:     phase.ID,
		Status:      models.StatusCompleted,
		StepResults: results,
	}
}

// inDeclarationOrder reorders step results to match the phase's declared
// step order. Steps skipped after a failed batch have no result and are
// omitted.
func inDeclarationOrder(steps []*models.Step, results []*models.StepResult) []*models.StepResult {
	byID := make(map[string]*models.StepResult, len(results))
	for _, r := range results {
		byID[r.StepID] = r
	}
	ordered := make([]*models.StepResult, 0, len(results))
	for _, s := range steps {
		if r, ok := byID[s.ID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

// runBatch executes all steps of one batch concurrently, returning results
// in the batch's declaration order.
func (e *PhaseExecutor) runBatch(ctx context.Context, batch []*models.Step, phase *models.Phase, p *models.Plan, logID string, accumulated []*models.StepResult) []*models.StepResult {
	results := make([]*models.StepResult, len(batch))
	var wg sync.WaitGroup
	for i, step := range batch {
		wg.Add(1)
		go func(i int, step *models.Step) {
			defer wg.Done()
			results[i] = e.runStep(ctx, step, phase, p, logID, accumulated)
		}(i, step)
	}
	wg.Wait()
	return results
}

// runStep executes one step per the standard lifecycle: enrich or default
// the config, emit step_started, invoke the tool, emit the terminal step
// event, and capture the outcome as a StepResult.
func (e *PhaseExecutor) runStep(ctx context.Context, step *models.Step, phase *models.Phase, p *models.Plan, logID string, accumulated []*models.StepResult) *models.StepResult {
	step.Status = models.StatusRunning

	if step.ToolName == tools.ToolSynthesize {
		EnrichSynthesizeStep(step, p, accumulated)
	}
	if len(step.Config) == 0 {
		step.Config = GetDefaultConfig(step.ToolName, p, accumulated)
	}

	e.events.Emit(logID, events.EventStepStarted, events.StepStartedPayload{
		StepID:   step.ID,
		ToolName: step.ToolName,
		Type:     string(step.Type),
		Config:   step.Config,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID), events.WithStepID(step.ID))

	start := time.Now()
	result := &models.StepResult{
		StepID:   step.ID,
		ToolName: step.ToolName,
		Input:    step.Config,
	}

	output, err := e.invoke(ctx, step, logID)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		step.Status = models.StatusFailed
		result.Status = models.StatusFailed
		result.Error = err.Error()
		e.events.Emit(logID, events.EventStepFailed, events.StepFailedPayload{
			StepID:     step.ID,
			ToolName:   step.ToolName,
			Input:      step.Config,
			Error:      events.StepErrorInfo{Message: err.Error()},
			DurationMs: result.DurationMs,
		}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID), events.WithStepID(step.ID))
		return result
	}

	step.Status = models.StatusCompleted
	result.Status = models.StatusCompleted
	result.Output = output.Output
	result.TokensUsed = output.TokensUsed
	result.Metadata = output.Metadata
	e.events.Emit(logID, events.EventStepCompleted, events.StepCompletedPayload{
		StepID:     step.ID,
		ToolName:   step.ToolName,
		Input:      step.Config,
		Output:     output.Output,
		TokensUsed: output.TokensUsed,
		DurationMs: result.DurationMs,
		Metadata:   output.Metadata,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID), events.WithStepID(step.ID))
	return result
}

func (e *PhaseExecutor) invoke(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CancelledError{StepID: step.ID}
	}
	exec, err := e.registry.GetExecutor(step.ToolName)
	if err != nil {
		return nil, err
	}
	out, err := exec.Execute(ctx, step, logID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CancelledError{StepID: step.ID}
		}
		return nil, err
	}
	return out, nil
}

func planQuery(p *models.Plan) string {
	if p == nil {
		return ""
	}
	return p.Query
}

// StepError is the phase-level error wrapping a failed step.
type StepError struct {
	StepID  string
	Message string
}

func (e *StepError) Error() string {
	return "step " + e.StepID + " failed: " + e.Message
}

// CancelledError marks a step aborted by session cancellation.
type CancelledError struct {
	StepID string
}

func (e *CancelledError) Error() string {
	return "cancelled"
}
