package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delvekit/delve/pkg/models"
)

const braveFixture = `{
  "web": {
    "results": [
      {"title": "Go", "url": "https://go.dev", "description": "The Go programming language"},
      {"title": "Go spec", "url": "https://go.dev/ref/spec", "description": "Language reference"},
      {"title": "Go blog", "url": "https://go.dev/blog", "description": "News"}
    ]
  }
}`

func searchStep(config map[string]any) *models.Step {
	return &models.Step{ID: "s1", ToolName: ToolWebSearch, Config: config}
}

func TestWebSearchExecute(t *testing.T) {
	var gotToken, gotQuery, gotCount string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Subscription-Token")
		gotQuery = r.URL.Query().Get("q")
		gotCount = r.URL.Query().Get("count")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(braveFixture))
	}))
	defer ts.Close()

	exec := NewWebSearchExecutor(WebSearchConfig{APIKey: "key-1", Endpoint: ts.URL})
	result, err := exec.Execute(context.Background(),
		searchStep(map[string]any{"query": "golang", "maxResults": float64(2)}), "log-1")
	require.NoError(t, err)

	assert.Equal(t, "key-1", gotToken)
	assert.Equal(t, "golang", gotQuery)
	assert.Equal(t, "2", gotCount)

	items, ok := result.Output.([]map[string]any)
	require.True(t, ok)
	// maxResults caps the output even when the provider returns more.
	require.Len(t, items, 2)
	assert.Equal(t, "https://go.dev", items[0]["url"])
	assert.Equal(t, "Go", items[0]["title"])
	assert.Equal(t, "The Go programming language", items[0]["content"])
	assert.Equal(t, 1.0, items[0]["score"])
	assert.Equal(t, 0.5, items[1]["score"])
	assert.Equal(t, 2, result.Metadata["resultCount"])
}

func TestWebSearchRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(braveFixture))
	}))
	defer ts.Close()

	exec := NewWebSearchExecutor(WebSearchConfig{Endpoint: ts.URL})
	result, err := exec.Execute(context.Background(),
		searchStep(map[string]any{"query": "golang"}), "log-1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, result.Output, 3)
}

func TestWebSearchFailsAfterRetryBudget(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	exec := NewWebSearchExecutor(WebSearchConfig{Endpoint: ts.URL})
	_, err := exec.Execute(context.Background(),
		searchStep(map[string]any{"query": "golang"}), "log-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 503")
	assert.Equal(t, int32(searchRetryAttempts+1), calls.Load())
}

func TestWebSearchRequiresQuery(t *testing.T) {
	exec := NewWebSearchExecutor(WebSearchConfig{})
	_, err := exec.Execute(context.Background(), searchStep(nil), "log-1")
	assert.ErrorContains(t, err, "requires a query")
}
