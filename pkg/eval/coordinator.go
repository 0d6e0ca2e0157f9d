package eval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/montanaflynn/stats"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/plan"
)

// ErrEvaluation is the hard-failure kind: no role produced a usable score.
var ErrEvaluation = errors.New("evaluation failed")

// Improver regenerates a failed artifact for the next attempt. It receives
// the scores of the failing attempt and returns the improved artifact text.
// A nil Improver disables iteration regardless of config.
type Improver func(ctx context.Context, scores map[string]float64) (string, error)

// Coordinator runs the three rubrics.
type Coordinator struct {
	llm    llm.Client
	events *events.Coordinator
	cfg    Config
}

// NewCoordinator creates an evaluation coordinator.
func NewCoordinator(llmClient llm.Client, coordinator *events.Coordinator, cfg Config) *Coordinator {
	return &Coordinator{llm: llmClient, events: coordinator, cfg: cfg}
}

// Config returns the coordinator's configuration.
func (c *Coordinator) Config() Config {
	return c.cfg
}

// EvaluatePlan scores a plan rendering against the plan rubric.
func (c *Coordinator) EvaluatePlan(ctx context.Context, logID, query string, p *models.Plan, improve Improver) (*models.EvaluationResult, error) {
	rendered, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to render plan: %w", err)
	}
	return c.evaluate(ctx, models.EvaluationPhasePlan, logID, query, string(rendered), improve)
}

// EvaluateRetrieval scores retrieved material against the retrieval rubric.
func (c *Coordinator) EvaluateRetrieval(ctx context.Context, logID, query, material string) (*models.EvaluationResult, error) {
	return c.evaluate(ctx, models.EvaluationPhaseRetrieval, logID, query, material, nil)
}

// EvaluateAnswer scores the synthesized answer against the answer rubric.
func (c *Coordinator) EvaluateAnswer(ctx context.Context, logID, query, answer string, improve Improver) (*models.EvaluationResult, error) {
	return c.evaluate(ctx, models.EvaluationPhaseAnswer, logID, query, answer, improve)
}

// evaluate runs one rubric as a bounded loop: score, compare against
// thresholds, optionally improve and repeat, escalating to the large model
// on a still-failing final attempt.
func (c *Coordinator) evaluate(ctx context.Context, phase models.EvaluationPhase, logID, query, artifact string, improve Improver) (*models.EvaluationResult, error) {
	rubric := c.cfg.rubric(phase)
	if !rubric.Enabled {
		result := &models.EvaluationResult{
			Phase:      phase,
			Status:     models.EvaluationStatusSkipped,
			SkipReason: "evaluation disabled",
		}
		c.emitCompleted(logID, result)
		return result, nil
	}
	maxAttempts := rubric.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	c.events.Emit(logID, events.EventEvaluationStarted, events.EvaluationStartedPayload{
		Phase: string(phase),
		Query: query,
	})

	result := &models.EvaluationResult{
		Phase:  phase,
		Status: models.EvaluationStatusInProgress,
		Scores: map[string]float64{},
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.TotalIterations = attempt

		scores, err := c.runRoles(ctx, rubric, llm.Role(""), query, artifact)
		if err != nil {
			c.events.Emit(logID, events.EventEvaluationFailed, events.EvaluationFailedPayload{
				Phase: string(phase),
				Error: err.Error(),
			})
			return nil, fmt.Errorf("%w: %v", ErrEvaluation, err)
		}
		mergeScores(result.Scores, scores)

		if passes(result.Scores, rubric) {
			result.Status = models.EvaluationStatusPassed
			break
		}

		lastAttempt := attempt == maxAttempts
		if lastAttempt && c.cfg.EscalationEnabled {
			escalated, err := c.runRoles(ctx, rubric, llm.RoleLarge, query, artifact)
			if err == nil {
				result.EscalatedToLargeModel = true
				mergeScores(result.Scores, escalated)
				if passes(result.Scores, rubric) {
					result.Status = models.EvaluationStatusPassed
					break
				}
			} else {
				slog.Warn("Escalated evaluation failed",
					"log_id", logID, "phase", phase, "error", err)
			}
		}
		if lastAttempt {
			result.Status = models.EvaluationStatusFailed
			break
		}
		if !rubric.IterationEnabled || improve == nil {
			result.Status = models.EvaluationStatusFailed
			break
		}

		improved, err := improve(ctx, result.Scores)
		if err != nil {
			slog.Warn("Artifact improvement failed, keeping previous attempt",
				"log_id", logID, "phase", phase, "error", err)
		} else if improved != "" {
			artifact = improved
		}
	}

	if overall, err := stats.Mean(scoreValues(result.Scores)); err == nil {
		result.Confidence = &overall
	}

	c.emitCompleted(logID, result)
	return result, nil
}

func (c *Coordinator) emitCompleted(logID string, result *models.EvaluationResult) {
	c.events.Emit(logID, events.EventEvaluationCompleted,
		events.NewEvaluationCompletedPayload(result))
}

// runRoles calls every role and aggregates scores last-wins. modelOverride
// forces all roles onto one model (escalation); empty keeps each role's own.
// A role timing out contributes zeroed scores for its dimensions instead of
// failing the rubric; the rubric hard-fails only when every role errored.
func (c *Coordinator) runRoles(ctx context.Context, rubric RubricConfig, modelOverride llm.Role, query, artifact string) (map[string]float64, error) {
	scores := map[string]float64{}
	succeeded := 0
	var lastErr error

	for _, role := range rubric.Roles {
		model := role.Model
		if modelOverride != "" {
			model = modelOverride
		}
		timeout := role.Timeout
		if timeout <= 0 {
			timeout = DefaultRoleTimeout
		}

		roleCtx, cancel := context.WithTimeout(ctx, timeout)
		roleScores, err := c.scoreWithRole(roleCtx, role, model, query, artifact)
		cancel()

		if err != nil {
			lastErr = err
			slog.Warn("Evaluator role failed, zeroing its dimensions",
				"role", role.Name, "error", err)
			for _, dim := range role.Dimensions {
				scores[dim] = 0
			}
			continue
		}
		succeeded++
		for dim, v := range roleScores {
			scores[dim] = v
		}
	}

	if succeeded == 0 && len(rubric.Roles) > 0 {
		return nil, fmt.Errorf("all evaluator roles failed: %w", lastErr)
	}
	return scores, nil
}

func (c *Coordinator) scoreWithRole(ctx context.Context, role Role, model llm.Role, query, artifact string) (map[string]float64, error) {
	prompt := fmt.Sprintf(
		"Research query:\n%s\n\nArtifact under review:\n%s\n\n"+
			"Score the artifact on these dimensions, each in [0,1]: %s.\n"+
			`Respond with strict JSON only: {"scores": {"<dimension>": <value>}}`,
		query, artifact, strings.Join(role.Dimensions, ", "))

	resp, err := c.llm.Chat(ctx, llm.ChatRequest{
		Role:   model,
		System: "You are a strict research quality evaluator. Respond with JSON only.",
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Scores map[string]float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(plan.StripFences(resp.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("evaluator %s returned invalid JSON: %w", role.Name, err)
	}
	if len(parsed.Scores) == 0 {
		return nil, fmt.Errorf("evaluator %s returned no scores", role.Name)
	}

	// Keep only the dimensions this role owns, clamped to [0,1].
	out := map[string]float64{}
	for _, dim := range role.Dimensions {
		if v, ok := parsed.Scores[dim]; ok {
			out[dim] = clamp01(v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evaluator %s scored none of its dimensions", role.Name)
	}
	return out, nil
}

func passes(scores map[string]float64, rubric RubricConfig) bool {
	for dim, threshold := range rubric.DimensionThresholds {
		if scores[dim] < threshold {
			return false
		}
	}
	overall, err := stats.Mean(scoreValues(scores))
	if err != nil {
		return false
	}
	return overall >= rubric.PassThreshold
}

func mergeScores(into, from map[string]float64) {
	for k, v := range from {
		into[k] = v
	}
}

func scoreValues(scores map[string]float64) []float64 {
	vals := make([]float64, 0, len(scores))
	for _, v := range scores {
		vals = append(vals, v)
	}
	return vals
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
