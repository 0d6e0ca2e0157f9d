// Package tools implements the tool registry and the built-in tool
// executors: web search, page fetch, answer synthesis, and prior-research
// lookup. Executors share a uniform contract and are safe for concurrent
// use; registration happens once at startup.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/delvekit/delve/pkg/models"
)

// Built-in tool names.
const (
	ToolWebSearch       = "web_search"
	ToolWebFetch        = "web_fetch"
	ToolSynthesize      = "synthesize"
	ToolKnowledgeSearch = "knowledge_search"
)

// ErrUnknownTool is returned when no executor is registered under a name.
var ErrUnknownTool = errors.New("unknown tool")

// Result is the uniform output of a tool invocation. Output is tool-shaped:
// a []map[string]any for retrieval tools, a string for fetch and synthesis.
type Result struct {
	Output     any
	TokensUsed int
	Metadata   map[string]any
}

// Executor runs one tool against a step's config. Implementations must be
// safe to call concurrently.
type Executor interface {
	Execute(ctx context.Context, step *models.Step, logID string) (*Result, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, step *models.Step, logID string) (*Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, step *models.Step, logID string) (*Result, error) {
	return f(ctx, step, logID)
}

// Registry resolves tool names to executors. Static after startup.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds a tool name to an executor, replacing any previous binding.
func (r *Registry) Register(name string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[name] = exec
}

// GetExecutor returns the executor for a tool name, or ErrUnknownTool.
func (r *Registry) GetExecutor(name string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return exec, nil
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	return names
}

// stringConfig reads a string key from a step config.
func stringConfig(step *models.Step, key string) string {
	if step == nil || step.Config == nil {
		return ""
	}
	s, _ := step.Config[key].(string)
	return s
}

// intConfig reads an integer key from a step config, tolerating the float64
// that JSON decoding produces.
func intConfig(step *models.Step, key string, fallback int) int {
	if step == nil || step.Config == nil {
		return fallback
	}
	switch v := step.Config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return fallback
	}
}
