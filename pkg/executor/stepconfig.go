// Package executor drives phase execution: dependency-ordered step batches,
// per-step events, specialized phase executors with post-hooks, and the
// milestone narration that accompanies them.
package executor

import (
	"github.com/delvekit/delve/pkg/models"
	"github.com/delvekit/delve/pkg/tools"
)

const defaultSearchQuery = "general research"

// GetDefaultConfig supplies a config for a step that declared none.
//
// Policy: web_search gets the plan query and a result cap; web_fetch gets
// the first URL found in prior retrieval output; everything else gets an
// empty map.
func GetDefaultConfig(toolName string, p *models.Plan, phaseResults []*models.StepResult) map[string]any {
	switch toolName {
	case tools.ToolWebSearch:
		query := defaultSearchQuery
		if p != nil && p.Query != "" {
			query = p.Query
		}
		return map[string]any{"query": query, "maxResults": 5}

	case tools.ToolWebFetch:
		if url := firstURLFromResults(phaseResults); url != "" {
			return map[string]any{"url": url}
		}
		return map[string]any{}

	default:
		return map[string]any{}
	}
}

// firstURLFromResults walks results in order and returns the first url field
// found in an array-typed output.
func firstURLFromResults(results []*models.StepResult) string {
	for _, r := range results {
		items, ok := outputItems(r.Output)
		if !ok {
			continue
		}
		for _, item := range items {
			if m, ok := item.(map[string]any); ok {
				if url, _ := m["url"].(string); url != "" {
					return url
				}
			}
		}
	}
	return ""
}

// outputItems normalizes an array-typed step output to []any.
func outputItems(output any) ([]any, bool) {
	switch v := output.(type) {
	case []any:
		return v, true
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, true
	default:
		return nil, false
	}
}

// EnrichSynthesizeStep fills in the synthesis step's config in place,
// preserving pre-existing keys. Afterwards the config always carries query,
// context, systemPrompt, and prompt.
func EnrichSynthesizeStep(step *models.Step, p *models.Plan, accumulated []*models.StepResult) {
	if step.Config == nil {
		step.Config = map[string]any{}
	}

	query := ""
	if p != nil {
		query = p.Query
	}
	if _, ok := step.Config["query"]; !ok {
		step.Config["query"] = query
	}
	if _, ok := step.Config["context"]; !ok {
		step.Config["context"] = BuildSynthesisContext(accumulated)
	}
	if s, _ := step.Config["systemPrompt"].(string); s == "" {
		step.Config["systemPrompt"] = defaultSynthesisSystemPrompt
	}
	if s, _ := step.Config["prompt"].(string); s == "" {
		step.Config["prompt"] = defaultSynthesisPrompt(step.Config)
	}
}
