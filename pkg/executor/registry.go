package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/delvekit/delve/pkg/eval"
	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/plan"
	"github.com/delvekit/delve/pkg/tools"
)

// Outcome is a phase result plus whatever the specialized executor's
// post-hooks derived from it. Post-hooks are best-effort: they never turn a
// completed phase into a failed one.
type Outcome struct {
	Result *models.PhaseResult

	// Synthesis phases only.
	Answer               string
	Sources              []models.Source
	Confidence           *float64
	ReflectionIterations int

	// EvaluationWarnings collects best-effort rubric failures.
	EvaluationWarnings []string
}

// SpecializedExecutor handles one class of phases.
type SpecializedExecutor interface {
	CanHandle(phase *models.Phase) bool
	Execute(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome
}

// SynthesisConfig controls the synthesis executor's post-hooks.
type SynthesisConfig struct {
	ReflectionEnabled       bool `yaml:"reflectionEnabled"`
	MaxReflectionIterations int  `yaml:"maxReflectionIterations"`
}

// DefaultSynthesisConfig enables one reflection pass.
func DefaultSynthesisConfig() SynthesisConfig {
	return SynthesisConfig{ReflectionEnabled: true, MaxReflectionIterations: 1}
}

// Registry holds the ordered specialized executors; the first whose
// CanHandle matches wins, with the generic executor as fallback.
type Registry struct {
	executors []SpecializedExecutor
	generic   SpecializedExecutor
}

// NewRegistry wires the standard executor set: search, fetch, synthesis,
// generic.
func NewRegistry(phases *PhaseExecutor, evaluator *eval.Coordinator, llmClient llm.Client, coordinator *events.Coordinator, synthCfg SynthesisConfig) *Registry {
	base := baseExecutor{phases: phases, evaluator: evaluator, events: coordinator}
	return &Registry{
		executors: []SpecializedExecutor{
			&searchExecutor{baseExecutor: base},
			&fetchExecutor{baseExecutor: base},
			&synthesisExecutor{baseExecutor: base, llm: llmClient, cfg: synthCfg},
		},
		generic: &genericExecutor{baseExecutor: base},
	}
}

// GetExecutor returns the executor responsible for a phase.
func (r *Registry) GetExecutor(phase *models.Phase) SpecializedExecutor {
	for _, e := range r.executors {
		if e.CanHandle(phase) {
			return e
		}
	}
	return r.generic
}

type baseExecutor struct {
	phases    *PhaseExecutor
	evaluator *eval.Coordinator
	events    *events.Coordinator
}

func (b *baseExecutor) run(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome {
	return &Outcome{Result: b.phases.ExecutePhase(ctx, phase, p, logID, previous)}
}

// evaluateRetrieval runs the retrieval rubric over the phase's array
// outputs. Failures are recorded as warnings and swallowed.
func (b *baseExecutor) evaluateRetrieval(ctx context.Context, outcome *Outcome, p *models.Plan, logID string) {
	if outcome.Result.Status != models.StatusCompleted {
		return
	}

	var material []string
	for _, r := range outcome.Result.StepResults {
		items, ok := outputItems(r.Output)
		if !ok || len(items) == 0 {
			continue
		}
		rendered, err := json.Marshal(items)
		if err != nil {
			continue
		}
		material = append(material, string(rendered))
	}
	if len(material) == 0 {
		return
	}

	result, err := b.evaluator.EvaluateRetrieval(ctx, logID, planQuery(p), strings.Join(material, "\n"))
	if err != nil {
		slog.Warn("Retrieval evaluation failed", "log_id", logID, "error", err)
		return
	}
	if result.Status == models.EvaluationStatusFailed {
		outcome.EvaluationWarnings = append(outcome.EvaluationWarnings,
			fmt.Sprintf("retrieval evaluation failed for phase %s", outcome.Result.PhaseID))
	}
}

type searchExecutor struct{ baseExecutor }

func (e *searchExecutor) CanHandle(phase *models.Phase) bool {
	return InferStage(phase.Name) == StageSearch
}

func (e *searchExecutor) Execute(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome {
	outcome := e.run(ctx, phase, p, logID, previous)
	e.evaluateRetrieval(ctx, outcome, p, logID)
	return outcome
}

type fetchExecutor struct{ baseExecutor }

func (e *fetchExecutor) CanHandle(phase *models.Phase) bool {
	return InferStage(phase.Name) == StageFetch
}

func (e *fetchExecutor) Execute(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome {
	outcome := e.run(ctx, phase, p, logID, previous)
	e.evaluateRetrieval(ctx, outcome, p, logID)
	return outcome
}

type genericExecutor struct{ baseExecutor }

func (e *genericExecutor) CanHandle(*models.Phase) bool { return true }

func (e *genericExecutor) Execute(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome {
	return e.run(ctx, phase, p, logID, previous)
}

type synthesisExecutor struct {
	baseExecutor
	llm llm.Client
	cfg SynthesisConfig
}

func (e *synthesisExecutor) CanHandle(phase *models.Phase) bool {
	return InferStage(phase.Name) == StageSynthesis
}

func (e *synthesisExecutor) Execute(ctx context.Context, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) *Outcome {
	e.events.Emit(logID, events.EventFinalSynthesisStarted, events.FinalSynthesisStartedPayload{
		PhaseID:       phase.ID,
		SubQueryCount: phase.SubQueryCount,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))

	outcome := e.run(ctx, phase, p, logID, previous)
	if outcome.Result.Status != models.StatusCompleted {
		return outcome
	}

	outcome.Answer = ExtractAnswer(outcome.Result.StepResults)
	outcome.Sources = ExtractSources(append(previous, outcome.Result.StepResults...))

	e.events.Emit(logID, events.EventFinalSynthesisCompleted, events.FinalSynthesisCompletedPayload{
		PhaseID:       phase.ID,
		AnswerLength:  len(outcome.Answer),
		SubQueryCount: phase.SubQueryCount,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))

	e.scoreConfidence(ctx, outcome, phase, p, logID)
	if e.cfg.ReflectionEnabled && outcome.Answer != "" {
		e.reflect(ctx, outcome, phase, p, logID, previous)
	}
	return outcome
}

// scoreConfidence asks the model for a single confidence value in [0,1].
// Best-effort: failure emits confidence_scoring_failed and moves on.
func (e *synthesisExecutor) scoreConfidence(ctx context.Context, outcome *Outcome, phase *models.Phase, p *models.Plan, logID string) {
	e.events.Emit(logID, events.EventConfidenceScoringStarted, events.ConfidenceScoringPayload{
		PhaseName: phase.Name,
		PhaseID:   phase.ID,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))

	confidence, err := e.askConfidence(ctx, planQuery(p), outcome.Answer)
	if err != nil {
		slog.Warn("Confidence scoring failed", "log_id", logID, "error", err)
		e.events.Emit(logID, events.EventConfidenceScoringFailed, events.ConfidenceScoringPayload{
			PhaseName: phase.Name,
			PhaseID:   phase.ID,
			Error:     err.Error(),
		}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
		return
	}

	outcome.Confidence = &confidence
	e.events.Emit(logID, events.EventConfidenceScoringCompleted, events.ConfidenceScoringPayload{
		PhaseName:  phase.Name,
		PhaseID:    phase.ID,
		Confidence: &confidence,
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
}

func (e *synthesisExecutor) askConfidence(ctx context.Context, query, answer string) (float64, error) {
	resp, err := e.llm.Chat(ctx, llm.ChatRequest{
		Role:   llm.RolePrimary,
		System: "You assess how well a research answer addresses its query. Respond with JSON only.",
		Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(
			"Query:\n%s\n\nAnswer:\n%s\n\n"+
				`Respond with strict JSON: {"confidence": <value in [0,1]>}`,
			query, answer)}},
	})
	if err != nil {
		return 0, err
	}

	var parsed struct {
		Confidence float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(plan.StripFences(resp.Content)), &parsed); err != nil {
		return 0, fmt.Errorf("invalid confidence response: %w", err)
	}
	return clamp01(parsed.Confidence), nil
}

// reflect runs bounded answer refinement: critique the answer against the
// research context and integrate improvements. Best-effort throughout.
func (e *synthesisExecutor) reflect(ctx context.Context, outcome *Outcome, phase *models.Phase, p *models.Plan, logID string, previous []*models.StepResult) {
	iterations := e.cfg.MaxReflectionIterations
	if iterations <= 0 {
		iterations = 1
	}
	researchContext := BuildSynthesisContext(previous)

	for i := 1; i <= iterations; i++ {
		e.events.Emit(logID, events.EventReflectionStarted, events.ReflectionPayload{
			PhaseID:   phase.ID,
			Iteration: i,
		}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))

		resp, err := e.llm.Chat(ctx, llm.ChatRequest{
			Role: llm.RolePrimary,
			System: "You refine research answers. Identify gaps or unsupported " +
				"claims in the draft, then return the improved answer text only.",
			Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(
				"Query:\n%s\n\nResearch material:\n%s\n\nDraft answer:\n%s",
				planQuery(p), researchContext, outcome.Answer)}},
		})
		if err != nil || strings.TrimSpace(resp.Content) == "" {
			slog.Warn("Reflection iteration failed",
				"log_id", logID, "iteration", i, "error", err)
			e.events.Emit(logID, events.EventReflectionFailed, events.ReflectionPayload{
				PhaseID:   phase.ID,
				Iteration: i,
				Error:     errMessage(err),
			}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
			return
		}

		outcome.Answer = strings.TrimSpace(resp.Content)
		outcome.ReflectionIterations = i
		e.events.Emit(logID, events.EventReflectionCompleted, events.ReflectionPayload{
			PhaseID:   phase.ID,
			Iteration: i,
		}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
	}
}

func errMessage(err error) string {
	if err == nil {
		return "empty reflection output"
	}
	return err.Error()
}

// ExtractAnswer finds the completed synthesize step and returns its answer
// text: the output itself when it is a string, else the answer, text, or
// content field of an object output.
func ExtractAnswer(results []*models.StepResult) string {
	for _, r := range results {
		if r.ToolName != tools.ToolSynthesize || r.Status != models.StatusCompleted {
			continue
		}
		switch out := r.Output.(type) {
		case string:
			return out
		case map[string]any:
			for _, key := range []string{"answer", "text", "content"} {
				if s, _ := out[key].(string); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// ExtractSources collects cited sources from results: items of array
// outputs with non-empty url and content, and object outputs carrying both
// directly.
func ExtractSources(results []*models.StepResult) []models.Source {
	var sources []models.Source
	seen := map[string]bool{}

	add := func(m map[string]any) {
		url, _ := m["url"].(string)
		content, _ := m["content"].(string)
		if url == "" || content == "" || seen[url] {
			return
		}
		seen[url] = true
		title, _ := m["title"].(string)
		relevance, _ := m["score"].(float64)
		sources = append(sources, models.Source{URL: url, Title: title, Relevance: relevance})
	}

	for _, r := range results {
		if items, ok := outputItems(r.Output); ok {
			for _, item := range items {
				if m, ok := item.(map[string]any); ok {
					add(m)
				}
			}
			continue
		}
		if m, ok := r.Output.(map[string]any); ok {
			add(m)
		}
	}
	return sources
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
