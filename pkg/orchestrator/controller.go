// Package orchestrator owns session lifecycle: planning, phase dispatch,
// rubric gates, and final result persistence, with a bounded pool of
// concurrent sessions.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/delvekit/delve/pkg/eval"
	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/executor"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/plan"
)

// ResultStore persists final research results. Satisfied by
// *knowledge.Store.
type ResultStore interface {
	Save(ctx context.Context, result *models.ResearchResult) error
}

// Controller runs one session end to end.
type Controller struct {
	planner   *plan.Planner
	registry  *executor.Registry
	evaluator *eval.Coordinator
	events    *events.Coordinator
	store     ResultStore
	llm       llm.Client
}

// NewController creates a session controller.
func NewController(planner *plan.Planner, registry *executor.Registry, evaluator *eval.Coordinator, coordinator *events.Coordinator, store ResultStore, llmClient llm.Client) *Controller {
	return &Controller{
		planner:   planner,
		registry:  registry,
		evaluator: evaluator,
		events:    coordinator,
		store:     store,
		llm:       llmClient,
	}
}

// RunSession executes the full session lifecycle for a query. The session's
// terminal status and events are always emitted, whatever the outcome.
func (c *Controller) RunSession(ctx context.Context, session *models.Session) {
	logID := session.LogID
	start := time.Now()

	session.Status = models.SessionStatusPlanning
	c.events.Emit(logID, events.EventSessionStarted,
		events.SessionStartedPayload{Query: session.Query})

	var warnings []string

	researchPlan, blocked, err := c.planAndEvaluate(ctx, session, &warnings)
	if err != nil {
		c.failSession(session, err)
		return
	}
	if blocked {
		c.failSession(session, fmt.Errorf("plan evaluation blocked the session"))
		return
	}
	session.Plan = researchPlan

	session.Status = models.SessionStatusExecuting
	answer, sources, confidence, reflections, timings, err := c.executePhases(ctx, researchPlan, logID, &warnings)
	if err != nil {
		c.failSession(session, err)
		return
	}

	answer, blocked = c.evaluateAnswer(ctx, session, answer, &warnings)
	if blocked {
		c.failSession(session, fmt.Errorf("answer evaluation blocked the session"))
		return
	}

	result := &models.ResearchResult{
		LogID:      logID,
		PlanID:     researchPlan.ID,
		Query:      session.Query,
		Answer:     answer,
		Sources:    sources,
		Confidence: confidence,
		Metadata: models.ResultMetadata{
			TotalExecutionTimeMs: time.Since(start).Milliseconds(),
			Phases:               timings,
			Decomposition:        researchPlan.Decomposition,
			ReflectionIterations: reflections,
			EvaluationWarnings:   warnings,
		},
	}
	// A lost final result is not recoverable: the session fails even though
	// execution succeeded.
	if err := c.store.Save(ctx, result); err != nil {
		c.failSession(session, fmt.Errorf("failed to persist result: %w", err))
		return
	}
	session.Result = result

	now := time.Now().UTC()
	session.FinishedAt = &now
	session.Status = models.SessionStatusCompleted
	c.events.Emit(logID, events.EventSessionCompleted, events.SessionCompletedPayload{})
	slog.Info("Session completed",
		"log_id", logID, "duration_ms", result.Metadata.TotalExecutionTimeMs)
}

// planAndEvaluate creates the plan and runs the plan rubric. The improver
// replans; the final captured plan is the one executed.
func (c *Controller) planAndEvaluate(ctx context.Context, session *models.Session, warnings *[]string) (*models.Plan, bool, error) {
	current, err := c.planner.CreatePlan(ctx, session.Query, session.LogID)
	if err != nil {
		return nil, false, fmt.Errorf("planning failed: %w", err)
	}

	improve := func(ctx context.Context, scores map[string]float64) (string, error) {
		replanned, err := c.planner.CreatePlan(ctx, session.Query, session.LogID)
		if err != nil {
			return "", err
		}
		current = replanned
		rendered, err := json.Marshal(replanned)
		if err != nil {
			return "", err
		}
		return string(rendered), nil
	}

	result, err := c.evaluator.EvaluatePlan(ctx, session.LogID, session.Query, current, improve)
	if err != nil {
		// Hard evaluation errors do not sink the session; the plan stands.
		slog.Warn("Plan evaluation errored", "log_id", session.LogID, "error", err)
		return current, false, nil
	}
	if result.Status == models.EvaluationStatusFailed {
		switch c.evaluator.Config().Plan.FailAction {
		case eval.FailActionBlock:
			return current, true, nil
		case eval.FailActionWarn:
			*warnings = append(*warnings, "plan evaluation failed")
		}
	}
	return current, false, nil
}

// executePhases dispatches every phase in order through the executor
// registry, accumulating results across phases. A failed phase terminates
// the session.
func (c *Controller) executePhases(ctx context.Context, researchPlan *models.Plan, logID string, warnings *[]string) (answer string, sources []models.Source, confidence *float64, reflections int, timings []models.PhaseTiming, err error) {
	var all []*models.StepResult
	for _, phase := range researchPlan.Phases {
		phaseStart := time.Now()
		outcome := c.registry.GetExecutor(phase).Execute(ctx, phase, researchPlan, logID, all)
		timings = append(timings, models.PhaseTiming{
			Phase:           phase.Name,
			ExecutionTimeMs: time.Since(phaseStart).Milliseconds(),
		})

		all = append(all, outcome.Result.StepResults...)
		*warnings = append(*warnings, outcome.EvaluationWarnings...)
		if outcome.Answer != "" {
			answer = outcome.Answer
			sources = outcome.Sources
			confidence = outcome.Confidence
			reflections = outcome.ReflectionIterations
		}

		if outcome.Result.Status == models.StatusFailed {
			return "", nil, nil, 0, timings,
				fmt.Errorf("phase %q failed: %w", phase.Name, outcome.Result.Err)
		}
	}
	return answer, sources, confidence, reflections, timings, nil
}

// evaluateAnswer runs the answer rubric with an LLM-backed improver that
// regenerates the answer from the rubric's weak dimensions.
func (c *Controller) evaluateAnswer(ctx context.Context, session *models.Session, answer string, warnings *[]string) (string, bool) {
	current := answer

	improve := func(ctx context.Context, scores map[string]float64) (string, error) {
		resp, err := c.llm.Chat(ctx, llm.ChatRequest{
			Role: llm.RolePrimary,
			System: "You improve research answers that scored poorly on a " +
				"quality rubric. Return the improved answer text only.",
			Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(
				"Query:\n%s\n\nAnswer:\n%s\n\nRubric scores (0-1): %v\n\n"+
					"Rewrite the answer to fix its weakest dimensions.",
				session.Query, current, scores)}},
		})
		if err != nil {
			return "", err
		}
		current = resp.Content
		return resp.Content, nil
	}

	result, err := c.evaluator.EvaluateAnswer(ctx, session.LogID, session.Query, current, improve)
	if err != nil {
		slog.Warn("Answer evaluation errored", "log_id", session.LogID, "error", err)
		return current, false
	}
	if result.Status == models.EvaluationStatusFailed {
		switch c.evaluator.Config().Answer.FailAction {
		case eval.FailActionBlock:
			return current, true
		case eval.FailActionWarn:
			*warnings = append(*warnings, "answer evaluation failed")
		}
	}
	return current, false
}

func (c *Controller) failSession(session *models.Session, err error) {
	now := time.Now().UTC()
	session.FinishedAt = &now
	session.Status = models.SessionStatusFailed
	c.events.Emit(session.LogID, events.EventSessionFailed,
		events.SessionFailedPayload{Error: err.Error()})
	slog.Error("Session failed", "log_id", session.LogID, "error", err)
}
