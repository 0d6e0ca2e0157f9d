package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/delvekit/delve/pkg/models"
)

const (
	braveSearchEndpoint  = "https://api.search.brave.com/res/v1/web/search"
	defaultSearchResults = 5
	searchRequestTimeout = 30 * time.Second
	searchRetryAttempts  = 2
	searchRetryBackoff   = 500 * time.Millisecond
)

// WebSearchConfig configures the web search executor.
type WebSearchConfig struct {
	APIKey   string `yaml:"apiKey"`
	Endpoint string `yaml:"endpoint"`
}

// WebSearchExecutor runs web searches against the Brave Search API. Output
// is a []map[string]any where each item carries url, title, and content.
type WebSearchExecutor struct {
	cfg    WebSearchConfig
	client *http.Client
}

// NewWebSearchExecutor creates a search executor. An empty endpoint uses the
// Brave API host.
func NewWebSearchExecutor(cfg WebSearchConfig) *WebSearchExecutor {
	if cfg.Endpoint == "" {
		cfg.Endpoint = braveSearchEndpoint
	}
	return &WebSearchExecutor{
		cfg:    cfg,
		client: &http.Client{Timeout: searchRequestTimeout},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

// Execute performs the search. Transient provider failures are retried a
// bounded number of times before surfacing as a step failure.
func (e *WebSearchExecutor) Execute(ctx context.Context, step *models.Step, logID string) (*Result, error) {
	query := stringConfig(step, "query")
	if query == "" {
		return nil, fmt.Errorf("web_search requires a query")
	}
	maxResults := intConfig(step, "maxResults", defaultSearchResults)

	var lastErr error
	for attempt := 0; attempt <= searchRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(searchRetryBackoff * time.Duration(attempt)):
			}
		}

		results, err := e.search(ctx, query, maxResults)
		if err == nil {
			slog.Debug("Web search completed",
				"log_id", logID, "query", query, "results", len(results))
			return &Result{
				Output:   results,
				Metadata: map[string]any{"provider": "brave", "resultCount": len(results)},
			}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("Web search attempt failed",
			"log_id", logID, "attempt", attempt+1, "error", err)
	}
	return nil, fmt.Errorf("web search failed after %d attempts: %w",
		searchRetryAttempts+1, lastErr)
}

func (e *WebSearchExecutor) search(ctx context.Context, query string, maxResults int) ([]map[string]any, error) {
	u, err := url.Parse(e.cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid search endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search provider returned status %d", resp.StatusCode)
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	results := make([]map[string]any, 0, len(decoded.Web.Results))
	for i, r := range decoded.Web.Results {
		if i >= maxResults {
			break
		}
		results = append(results, map[string]any{
			"url":     r.URL,
			"title":   r.Title,
			"content": r.Description,
			// Brave returns no per-result score; reciprocal rank stands in
			// so downstream source relevance stays meaningful.
			"score": 1.0 / float64(i+1),
		})
	}
	return results, nil
}
