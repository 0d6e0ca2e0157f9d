package api

import (
	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/models"
)

// StartResearchRequest is the body of POST /research/query.
type StartResearchRequest struct {
	Query string `json:"query"`
}

// StartResearchResponse is returned by POST /research/query.
type StartResearchResponse struct {
	LogID  string `json:"logId"`
	Status string `json:"status"`
}

// SessionResponse is returned by GET /research/sessions/:logId.
type SessionResponse struct {
	LogID      string               `json:"logId"`
	Query      string               `json:"query"`
	Status     models.SessionStatus `json:"status"`
	StartedAt  string               `json:"startedAt"`
	FinishedAt string               `json:"finishedAt,omitempty"`
}

// CancelResponse is returned by POST /research/sessions/:logId/cancel.
type CancelResponse struct {
	LogID   string `json:"logId"`
	Message string `json:"message"`
}

// KnowledgeSearchResponse is returned by GET /knowledge/search.
type KnowledgeSearchResponse struct {
	Query   string                   `json:"query"`
	Results []knowledge.ScoredResult `json:"results"`
}

// BackfillResponse is returned by POST /admin/embeddings/backfill.
type BackfillResponse struct {
	Updated int `json:"updated"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
	Error    string `json:"error,omitempty"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
