package tools

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/models"
)

const defaultKnowledgeResults = 3

// KnowledgeSearcher is the slice of the knowledge store the search tool
// needs. Satisfied by *knowledge.Store.
type KnowledgeSearcher interface {
	SearchHybrid(ctx context.Context, query string, maxResults int, w knowledge.Weights) ([]knowledge.ScoredResult, error)
}

// KnowledgeSearchExecutor surfaces prior research as a retrieval tool.
// Output mirrors the web search shape so downstream consumers treat both
// channels uniformly.
type KnowledgeSearchExecutor struct {
	store KnowledgeSearcher
}

// NewKnowledgeSearchExecutor creates the prior-research lookup tool.
func NewKnowledgeSearchExecutor(store KnowledgeSearcher) *KnowledgeSearchExecutor {
	return &KnowledgeSearchExecutor{store: store}
}

func (e *KnowledgeSearchExecutor) Execute(ctx context.Context, step *models.Step, logID string) (*Result, error) {
	query := stringConfig(step, "query")
	if query == "" {
		return nil, fmt.Errorf("knowledge_search requires a query")
	}
	maxResults := intConfig(step, "maxResults", defaultKnowledgeResults)

	matches, err := e.store.SearchHybrid(ctx, query, maxResults, knowledge.DefaultWeights)
	if err != nil {
		return nil, fmt.Errorf("knowledge search failed: %w", err)
	}

	slog.Debug("Knowledge search completed",
		"log_id", logID, "query", query, "matches", len(matches))

	results := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		results = append(results, map[string]any{
			"id":      m.ID,
			"query":   m.Query,
			"content": m.Answer,
			"score":   m.Score,
		})
	}
	return &Result{
		Output:   results,
		Metadata: map[string]any{"provider": "knowledge_store", "resultCount": len(results)},
	}, nil
}
