package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/eval"
	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/executor"
	"github.com/delvekit/delve/pkg/llm"
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/plan"
	"github.com/delvekit/delve/pkg/tools"
)

const scriptedPlan = `{
  "phases": [
    {"name": "Initial Search", "steps": [{"tool": "web_search"}]},
    {"name": "Content Gathering", "steps": [{"tool": "web_fetch"}]},
    {"name": "Answer Synthesis", "steps": [{"tool": "synthesize"}]}
  ]
}`

type memoryStore struct {
	mu      sync.Mutex
	saved   []*models.ResearchResult
	saveErr error
}

func (m *memoryStore) Save(_ context.Context, r *models.ResearchResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	r.ID = "result-1"
	m.saved = append(m.saved, r)
	return nil
}

type harness struct {
	runner      *Runner
	coordinator *events.Coordinator
	store       *memoryStore
	global      *events.Subscription
}

// newHarness wires a full orchestrator with scripted LLM responses, stub
// retrieval tools, rubrics disabled, and reflection off.
func newHarness(t *testing.T, script *llm.ScriptedClient, mutate func(*memoryStore, *tools.Registry), planCfg ...plan.Config) *harness {
	t.Helper()

	coordinator := events.NewCoordinator(nil)
	t.Cleanup(coordinator.Close)
	global := coordinator.Subscribe(events.GlobalChannel)
	t.Cleanup(func() { coordinator.Unsubscribe(global) })

	toolReg := tools.NewRegistry()
	toolReg.Register(tools.ToolWebSearch, tools.ExecutorFunc(
		func(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
			return &tools.Result{Output: []map[string]any{
				{"url": "https://source.example", "title": "Source", "content": "source text"},
			}}, nil
		}))
	toolReg.Register(tools.ToolWebFetch, tools.ExecutorFunc(
		func(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
			return &tools.Result{Output: "fetched page content"}, nil
		}))
	toolReg.Register(tools.ToolSynthesize, tools.ExecutorFunc(
		func(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
			return &tools.Result{Output: "the final answer", TokensUsed: 42}, nil
		}))

	store := &memoryStore{}
	if mutate != nil {
		mutate(store, toolReg)
	}

	evalCfg := eval.DefaultConfig()
	evalCfg.Plan.Enabled = false
	evalCfg.Retrieval.Enabled = false
	evalCfg.Answer.Enabled = false
	evaluator := eval.NewCoordinator(script, coordinator, evalCfg)

	decomposer := plan.NewDecomposer(script, coordinator)
	cfg := plan.Config{}
	if len(planCfg) > 0 {
		cfg = planCfg[0]
	}
	planner := plan.NewPlanner(script, coordinator, decomposer, cfg)

	phases := executor.NewPhaseExecutor(toolReg, coordinator, executor.NewMilestoneEmitter(coordinator))
	registry := executor.NewRegistry(phases, evaluator, script, coordinator,
		executor.SynthesisConfig{ReflectionEnabled: false})

	controller := NewController(planner, registry, evaluator, coordinator, store, script)
	runner := NewRunner(controller, Config{MaxConcurrentSessions: 2})

	return &harness{runner: runner, coordinator: coordinator, store: store, global: global}
}

func (h *harness) waitTerminal(t *testing.T, logID string) *models.Session {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s, ok := h.runner.GetSession(logID); ok && s.Status.Terminal() {
			h.runner.Wait()
			return s
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session never reached a terminal state")
	return nil
}

func (h *harness) sessionEvents(logID string) []events.Envelope {
	var out []events.Envelope
	for {
		select {
		case env := <-h.global.Events():
			if env.LogID == logID {
				out = append(out, env)
			}
		default:
			return out
		}
	}
}

func TestRunSessionHappyPath(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: scriptedPlan},
		llm.ScriptedResponse{Content: `{"confidence": 0.9}`},
	)
	h := newHarness(t, script, nil)

	logID, err := h.runner.StartSession("What is quantum computing?")
	require.NoError(t, err)
	session := h.waitTerminal(t, logID)

	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.Result)
	assert.Equal(t, "the final answer", session.Result.Answer)
	require.NotEmpty(t, session.Result.Sources)
	assert.Equal(t, "https://source.example", session.Result.Sources[0].URL)
	require.NotNil(t, session.Result.Confidence)
	assert.InDelta(t, 0.9, *session.Result.Confidence, 1e-9)
	assert.Len(t, session.Result.Metadata.Phases, 3)

	envs := h.sessionEvents(logID)
	require.NotEmpty(t, envs)
	assert.Equal(t, events.EventSessionStarted, envs[0].EventType)
	assert.Equal(t, events.EventSessionCompleted, envs[len(envs)-1].EventType)

	counts := map[string]int{}
	terminalSessionEvents := 0
	for _, env := range envs {
		counts[env.EventType]++
		if env.EventType == events.EventSessionCompleted || env.EventType == events.EventSessionFailed {
			terminalSessionEvents++
		}
	}
	assert.Equal(t, 1, terminalSessionEvents, "exactly one terminal session event")
	assert.Equal(t, 3, counts[events.EventPhaseStarted])
	assert.Equal(t, 3, counts[events.EventPhaseCompleted])
	assert.Zero(t, counts[events.EventPhaseFailed])
}

func TestRunSessionDecomposedQueryCarriesMetadata(t *testing.T) {
	const decomposition = `{
	  "isComplex": true,
	  "subQueries": [
	    {"order": 1, "text": "AI economic impact", "type": "analytical", "priority": "high", "estimatedComplexity": 3, "dependencies": []},
	    {"order": 2, "text": "blockchain economic impact", "type": "analytical", "priority": "high", "estimatedComplexity": 3, "dependencies": []}
	  ]
	}`
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: decomposition},
		llm.ScriptedResponse{Content: `{"confidence": 0.8}`},
	)
	h := newHarness(t, script, nil, plan.Config{DecompositionEnabled: true})

	logID, err := h.runner.StartSession("Compare AI and blockchain economic impact")
	require.NoError(t, err)
	session := h.waitTerminal(t, logID)

	require.Equal(t, models.SessionStatusCompleted, session.Status)
	require.NotNil(t, session.Result)
	decomp := session.Result.Metadata.Decomposition
	require.NotNil(t, decomp, "decomposed sessions must persist their decomposition")
	assert.True(t, decomp.IsComplex)
	assert.Len(t, decomp.SubQueries, 2)
}

func TestRunSessionStepFailureFailsSession(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: scriptedPlan})
	h := newHarness(t, script, func(store *memoryStore, reg *tools.Registry) {
		reg.Register(tools.ToolWebFetch, tools.ExecutorFunc(
			func(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
				return nil, fmt.Errorf("fetch provider down")
			}))
	})

	logID, err := h.runner.StartSession("q")
	require.NoError(t, err)
	session := h.waitTerminal(t, logID)

	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.Nil(t, session.Result)
	assert.Empty(t, h.store.saved, "no result may be persisted for a failed session")

	envs := h.sessionEvents(logID)
	last := envs[len(envs)-1]
	assert.Equal(t, events.EventSessionFailed, last.EventType)
	assert.Contains(t, last.Data.(events.SessionFailedPayload).Error, "fetch provider down")
}

func TestRunSessionPlanningFailureFailsSession(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: "not a plan at all"})
	h := newHarness(t, script, nil)

	logID, err := h.runner.StartSession("q")
	require.NoError(t, err)
	session := h.waitTerminal(t, logID)

	assert.Equal(t, models.SessionStatusFailed, session.Status)
	envs := h.sessionEvents(logID)
	assert.Equal(t, events.EventSessionFailed, envs[len(envs)-1].EventType)
}

func TestRunSessionPersistFailureFailsSession(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: scriptedPlan},
		llm.ScriptedResponse{Content: `{"confidence": 0.9}`},
	)
	h := newHarness(t, script, func(store *memoryStore, _ *tools.Registry) {
		store.saveErr = fmt.Errorf("disk full")
	})

	logID, err := h.runner.StartSession("q")
	require.NoError(t, err)
	session := h.waitTerminal(t, logID)

	assert.Equal(t, models.SessionStatusFailed, session.Status)
	envs := h.sessionEvents(logID)
	last := envs[len(envs)-1].Data.(events.SessionFailedPayload)
	assert.Contains(t, last.Error, "disk full")
}

func TestStartSessionRejectsEmptyQuery(t *testing.T) {
	h := newHarness(t, llm.NewScriptedClient(), nil)
	_, err := h.runner.StartSession("")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestCancelSessionMarksStepsCancelled(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: scriptedPlan})

	started := make(chan struct{})
	h := newHarness(t, script, func(_ *memoryStore, reg *tools.Registry) {
		reg.Register(tools.ToolWebSearch, tools.ExecutorFunc(
			func(ctx context.Context, step *models.Step, logID string) (*tools.Result, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			}))
	})

	logID, err := h.runner.StartSession("q")
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("search step never started")
	}
	require.True(t, h.runner.CancelSession(logID))

	session := h.waitTerminal(t, logID)
	assert.Equal(t, models.SessionStatusFailed, session.Status)

	envs := h.sessionEvents(logID)
	var stepErr string
	for _, env := range envs {
		if p, ok := env.Data.(events.StepFailedPayload); ok {
			stepErr = p.Error.Message
		}
	}
	assert.Equal(t, "cancelled", stepErr)
}

func TestRunnerTracksActiveSessions(t *testing.T) {
	script := llm.NewScriptedClient(
		llm.ScriptedResponse{Content: scriptedPlan},
		llm.ScriptedResponse{Content: `{"confidence": 0.5}`},
	)
	h := newHarness(t, script, nil)

	logID, err := h.runner.StartSession("q")
	require.NoError(t, err)

	_, ok := h.runner.GetSession(logID)
	assert.True(t, ok)
	_, ok = h.runner.GetSession("no-such-session")
	assert.False(t, ok)

	h.waitTerminal(t, logID)
	assert.Zero(t, h.runner.ActiveCount())
}
