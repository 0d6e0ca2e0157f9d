package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/models"
)

type stubSearcher struct {
	query   string
	limit   int
	weights knowledge.Weights
	hits    []knowledge.ScoredResult
	err     error
}

func (s *stubSearcher) SearchHybrid(_ context.Context, query string, maxResults int, w knowledge.Weights) ([]knowledge.ScoredResult, error) {
	s.query = query
	s.limit = maxResults
	s.weights = w
	return s.hits, s.err
}

func TestKnowledgeSearchExecute(t *testing.T) {
	searcher := &stubSearcher{hits: []knowledge.ScoredResult{
		{ID: "r1", Query: "prior question", Answer: "prior answer", Score: 0.9},
		{ID: "r2", Query: "other question", Answer: "other answer", Score: 0.4},
	}}
	exec := NewKnowledgeSearchExecutor(searcher)

	step := &models.Step{Config: map[string]any{"query": "qubits", "maxResults": float64(2)}}
	result, err := exec.Execute(context.Background(), step, "log-1")
	require.NoError(t, err)

	assert.Equal(t, "qubits", searcher.query)
	assert.Equal(t, 2, searcher.limit)
	assert.Equal(t, knowledge.DefaultWeights, searcher.weights)

	items, ok := result.Output.([]map[string]any)
	require.True(t, ok)
	require.Len(t, items, 2)
	assert.Equal(t, "r1", items[0]["id"])
	assert.Equal(t, "prior answer", items[0]["content"])
	assert.Equal(t, 0.9, items[0]["score"])
	assert.Equal(t, 2, result.Metadata["resultCount"])
}

func TestKnowledgeSearchDefaultsMaxResults(t *testing.T) {
	searcher := &stubSearcher{}
	exec := NewKnowledgeSearchExecutor(searcher)

	_, err := exec.Execute(context.Background(),
		&models.Step{Config: map[string]any{"query": "q"}}, "log-1")
	require.NoError(t, err)
	assert.Equal(t, defaultKnowledgeResults, searcher.limit)
}

func TestKnowledgeSearchRequiresQuery(t *testing.T) {
	exec := NewKnowledgeSearchExecutor(&stubSearcher{})
	_, err := exec.Execute(context.Background(), &models.Step{}, "log-1")
	assert.ErrorContains(t, err, "requires a query")
}

func TestKnowledgeSearchPropagatesStoreError(t *testing.T) {
	exec := NewKnowledgeSearchExecutor(&stubSearcher{err: assert.AnError})
	_, err := exec.Execute(context.Background(),
		&models.Step{Config: map[string]any{"query": "q"}}, "log-1")
	assert.ErrorContains(t, err, "knowledge search failed")
}
