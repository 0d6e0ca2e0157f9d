package plan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
)

// ErrPlanParse is returned when the model never produced a structurally
// valid plan within the iteration budget.
var ErrPlanParse = errors.New("planning produced no valid plan")

// DefaultMaxPlanningIterations bounds the planning loop.
const DefaultMaxPlanningIterations = 3

const toolSynthesize = "synthesize"

// Config controls the planner.
type Config struct {
	MaxPlanningIterations int  `yaml:"maxPlanningIterations"`
	DecompositionEnabled  bool `yaml:"decompositionEnabled"`
}

// Planner turns a query into an executable plan, decomposing complex
// queries first when enabled.
type Planner struct {
	llm        llm.Client
	events     *events.Coordinator
	decomposer *Decomposer
	cfg        Config
}

// NewPlanner creates a planner.
func NewPlanner(llmClient llm.Client, coordinator *events.Coordinator, decomposer *Decomposer, cfg Config) *Planner {
	if cfg.MaxPlanningIterations <= 0 {
		cfg.MaxPlanningIterations = DefaultMaxPlanningIterations
	}
	return &Planner{llm: llmClient, events: coordinator, decomposer: decomposer, cfg: cfg}
}

// CreatePlan produces a plan for the query. Complex queries (per the
// decomposer) map each sub-query layer to a research phase plus a terminal
// synthesis phase; simple queries are planned directly by the model inside
// a bounded iteration loop.
func (p *Planner) CreatePlan(ctx context.Context, query, logID string) (*models.Plan, error) {
	p.events.Emit(logID, events.EventPlanningStarted, events.PlanningStartedPayload{})

	var decomposition *models.DecompositionResult
	if p.cfg.DecompositionEnabled && p.decomposer != nil {
		var err error
		decomposition, err = p.decomposer.Decompose(ctx, query, logID)
		if err != nil {
			// Decomposition is an enhancement; fall back to direct planning.
			slog.Warn("Decomposition failed, planning without it",
				"log_id", logID, "error", err)
			decomposition = nil
		}
	}

	var plan *models.Plan
	var err error
	if decomposition != nil && decomposition.IsComplex {
		plan = p.planFromDecomposition(query, decomposition)
	} else {
		plan, err = p.planWithModel(ctx, query, logID)
		if err != nil {
			return nil, err
		}
	}
	plan.Decomposition = decomposition

	p.emitPlanEvents(logID, plan)
	slog.Info("Plan created",
		"log_id", logID, "plan_id", plan.ID, "phases", len(plan.Phases))
	return plan, nil
}

// planFromDecomposition maps each execution layer to one research phase
// whose steps search the layer's sub-queries, then appends the terminal
// synthesis phase.
func (p *Planner) planFromDecomposition(query string, d *models.DecompositionResult) *models.Plan {
	plan := &models.Plan{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	byID := make(map[string]*models.SubQuery, len(d.SubQueries))
	for _, sq := range d.SubQueries {
		byID[sq.ID] = sq
	}

	for i, layer := range d.ExecutionPlan {
		phase := &models.Phase{
			ID:            uuid.NewString(),
			PlanID:        plan.ID,
			Name:          fmt.Sprintf("Sub-Query Research %d", i+1),
			Description:   fmt.Sprintf("Research layer %d of the decomposed query", i+1),
			Status:        models.StatusPending,
			Order:         i + 1,
			SubQueryCount: len(layer),
			IsDecomposed:  true,
		}
		for j, sqID := range layer {
			sq := byID[sqID]
			if sq == nil {
				continue
			}
			phase.Steps = append(phase.Steps, &models.Step{
				ID:       uuid.NewString(),
				PhaseID:  phase.ID,
				Type:     models.StepTypeToolCall,
				ToolName: "web_search",
				Config:   map[string]any{"query": sq.Text, "maxResults": 5},
				Status:   models.StatusPending,
				Order:    j + 1,
			})
		}
		plan.Phases = append(plan.Phases, phase)
	}

	synthesis := &models.Phase{
		ID:            uuid.NewString(),
		PlanID:        plan.ID,
		Name:          "Final Synthesis",
		Description:   "Combine sub-query findings into the final answer",
		Status:        models.StatusPending,
		Order:         len(plan.Phases) + 1,
		SubQueryCount: len(d.SubQueries),
		IsDecomposed:  true,
	}
	synthesis.Steps = []*models.Step{{
		ID:       uuid.NewString(),
		PhaseID:  synthesis.ID,
		Type:     models.StepTypeLLMCall,
		ToolName: toolSynthesize,
		Status:   models.StatusPending,
		Order:    1,
	}}
	plan.Phases = append(plan.Phases, synthesis)
	return plan
}

type rawPlanStep struct {
	Tool         string `json:"tool"`
	Dependencies []int  `json:"dependencies"`
}

type rawPlanPhase struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Steps       []rawPlanStep `json:"steps"`
}

type rawPlan struct {
	Phases []rawPlanPhase `json:"phases"`
}

// planWithModel asks the model for a plan, retrying on structural
// violations up to the iteration ceiling.
func (p *Planner) planWithModel(ctx context.Context, query, logID string) (*models.Plan, error) {
	var lastErr error
	for iteration := 1; iteration <= p.cfg.MaxPlanningIterations; iteration++ {
		p.events.Emit(logID, events.EventPlanningIteration, events.PlanningIterationPayload{
			Iteration:     iteration,
			MaxIterations: p.cfg.MaxPlanningIterations,
		})

		resp, err := p.llm.Chat(ctx, llm.ChatRequest{
			Role:     llm.RolePrimary,
			System:   planningSystemPrompt,
			Messages: []llm.Message{{Role: "user", Content: fmt.Sprintf(planningPromptFormat, query)}},
		})
		if err != nil {
			lastErr = err
			slog.Warn("Planning LLM call failed",
				"log_id", logID, "iteration", iteration, "error", err)
			continue
		}

		plan, err := p.parsePlan(query, resp.Content)
		if err != nil {
			lastErr = err
			slog.Warn("Planning produced invalid plan",
				"log_id", logID, "iteration", iteration, "error", err)
			continue
		}
		return plan, nil
	}
	return nil, fmt.Errorf("%w after %d iterations: %v",
		ErrPlanParse, p.cfg.MaxPlanningIterations, lastErr)
}

// parsePlan validates structure: at least one phase, every phase named and
// non-empty, every step bound to a tool, and a synthesize step in the final
// phase. Step dependencies arrive as in-phase indexes and are rewritten to
// minted step IDs.
func (p *Planner) parsePlan(query, content string) (*models.Plan, error) {
	var raw rawPlan
	if err := json.Unmarshal([]byte(StripFences(content)), &raw); err != nil {
		return nil, fmt.Errorf("plan is not valid JSON: %w", err)
	}
	if len(raw.Phases) == 0 {
		return nil, fmt.Errorf("plan has no phases")
	}

	plan := &models.Plan{
		ID:        uuid.NewString(),
		Query:     query,
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	for i, rp := range raw.Phases {
		if rp.Name == "" {
			return nil, fmt.Errorf("phase %d has no name", i+1)
		}
		if len(rp.Steps) == 0 {
			return nil, fmt.Errorf("phase %q has no steps", rp.Name)
		}

		phase := &models.Phase{
			ID:          uuid.NewString(),
			PlanID:      plan.ID,
			Name:        rp.Name,
			Description: rp.Description,
			Status:      models.StatusPending,
			Order:       i + 1,
		}

		stepIDs := make([]string, len(rp.Steps))
		for j := range rp.Steps {
			stepIDs[j] = uuid.NewString()
		}
		for j, rs := range rp.Steps {
			if rs.Tool == "" {
				return nil, fmt.Errorf("phase %q step %d has no tool", rp.Name, j+1)
			}
			stepType := models.StepTypeToolCall
			if rs.Tool == toolSynthesize {
				stepType = models.StepTypeLLMCall
			}
			step := &models.Step{
				ID:       stepIDs[j],
				PhaseID:  phase.ID,
				Type:     stepType,
				ToolName: rs.Tool,
				Status:   models.StatusPending,
				Order:    j + 1,
			}
			for _, dep := range rs.Dependencies {
				if dep < 0 || dep >= len(rp.Steps) || dep == j {
					return nil, fmt.Errorf("phase %q step %d has invalid dependency %d", rp.Name, j+1, dep)
				}
				step.Dependencies = append(step.Dependencies, stepIDs[dep])
			}
			phase.Steps = append(phase.Steps, step)
		}
		plan.Phases = append(plan.Phases, phase)
	}

	last := plan.Phases[len(plan.Phases)-1]
	hasSynthesis := false
	for _, s := range last.Steps {
		if s.ToolName == toolSynthesize {
			hasSynthesis = true
			break
		}
	}
	if !hasSynthesis {
		return nil, fmt.Errorf("final phase %q has no synthesize step", last.Name)
	}
	return plan, nil
}

func (p *Planner) emitPlanEvents(logID string, plan *models.Plan) {
	summaries := make([]events.PlanPhaseSummary, len(plan.Phases))
	for i, ph := range plan.Phases {
		summaries[i] = events.PlanPhaseSummary{
			PhaseID:   ph.ID,
			Name:      ph.Name,
			StepCount: len(ph.Steps),
			Order:     ph.Order,
		}
	}
	p.events.Emit(logID, events.EventPlanCreated, events.PlanCreatedPayload{
		PlanID:      plan.ID,
		Query:       plan.Query,
		TotalPhases: len(plan.Phases),
		Phases:      summaries,
	}, events.WithPlanID(plan.ID))

	for _, ph := range plan.Phases {
		p.events.Emit(logID, events.EventPhaseAdded, events.PhaseAddedPayload{
			PhaseID: ph.ID,
			Name:    ph.Name,
		}, events.WithPlanID(plan.ID), events.WithPhaseID(ph.ID))
		for _, s := range ph.Steps {
			p.events.Emit(logID, events.EventStepAdded, events.StepAddedPayload{
				StepID:   s.ID,
				ToolName: s.ToolName,
			}, events.WithPlanID(plan.ID), events.WithPhaseID(ph.ID), events.WithStepID(s.ID))
		}
	}
}
