package executor

import (
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/models"
)

// Research stages for milestone narration.
const (
	StageSearch    = 1
	StageFetch     = 2
	StageSynthesis = 3
)

type milestoneTemplate struct {
	id       string
	template string
}

// Per-stage template sequences. The last template of each stage is reserved
// for phase completion; the rest are emitted up front as milestone_started.
var stageTemplates = map[int][]milestoneTemplate{
	StageSearch: {
		{"search.analyze", "Analyzing research angle for \"{query}\""},
		{"search.run", "Running {stepCount} search task(s)"},
		{"search.done", "Search phase \"{phaseName}\" finished"},
	},
	StageFetch: {
		{"fetch.select", "Selecting sources to read for \"{query}\""},
		{"fetch.read", "Reading {stepCount} source(s)"},
		{"fetch.done", "Content gathering \"{phaseName}\" finished"},
	},
	StageSynthesis: {
		{"synthesis.review", "Reviewing collected research material"},
		{"synthesis.write", "Composing the answer to \"{query}\""},
		{"synthesis.done", "Synthesis phase \"{phaseName}\" finished"},
	},
}

// MilestoneEmitter narrates phase progress with template-driven milestones.
type MilestoneEmitter struct {
	events *events.Coordinator
}

// NewMilestoneEmitter creates a milestone emitter.
func NewMilestoneEmitter(coordinator *events.Coordinator) *MilestoneEmitter {
	return &MilestoneEmitter{events: coordinator}
}

// InferStage maps a phase name to its research stage, using the same
// substring rules as the phase executor registry. Unmatched phases get no
// milestones.
func InferStage(phaseName string) int {
	name := strings.ToLower(phaseName)
	switch {
	case containsAny(name, "search", "query", "initial"):
		return StageSearch
	case containsAny(name, "fetch", "gather", "content"):
		return StageFetch
	case containsAny(name, "synth", "answer", "generat"):
		return StageSynthesis
	default:
		return 0
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// EmitMilestonesForPhase emits the preparatory milestones for the phase's
// stage (every template but the completion one).
func (m *MilestoneEmitter) EmitMilestonesForPhase(phase *models.Phase, logID, query string) {
	stage := InferStage(phase.Name)
	templates := stageTemplates[stage]
	if len(templates) < 2 {
		return
	}

	data := templateData(phase, query)
	prep := templates[:len(templates)-1]
	for i, t := range prep {
		m.events.Emit(logID, events.EventMilestoneStarted, events.MilestonePayload{
			MilestoneID:  uuid.NewString(),
			TemplateID:   t.id,
			Stage:        stage,
			Description:  interpolate(t.template, data),
			Template:     t.template,
			TemplateData: data,
			Progress:     float64(i) / float64(len(templates)-1),
			Status:       "started",
		}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
	}
}

// EmitPhaseCompletion emits the stage's final milestone as completed.
func (m *MilestoneEmitter) EmitPhaseCompletion(phase *models.Phase, logID string) {
	stage := InferStage(phase.Name)
	templates := stageTemplates[stage]
	if len(templates) == 0 {
		return
	}

	last := templates[len(templates)-1]
	data := templateData(phase, "")
	m.events.Emit(logID, events.EventMilestoneCompleted, events.MilestonePayload{
		MilestoneID:  uuid.NewString(),
		TemplateID:   last.id,
		Stage:        stage,
		Description:  interpolate(last.template, data),
		Template:     last.template,
		TemplateData: data,
		Progress:     1,
		Status:       "completed",
	}, events.WithPlanID(phase.PlanID), events.WithPhaseID(phase.ID))
}

func templateData(phase *models.Phase, query string) map[string]string {
	return map[string]string{
		"query":     query,
		"phaseName": phase.Name,
		"stepCount": strconv.Itoa(len(phase.Steps)),
	}
}

// interpolate substitutes {key} placeholders with string-rendered values.
func interpolate(template string, data map[string]string) string {
	out := template
	for k, v := range data {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}
