// Package api exposes the HTTP surface: research session control, stored
// results and event history, live SSE streaming, knowledge search, and
// health.
package api

import (
	"context"
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/delvekit/delve/pkg/events"
	"github.com/delvekit/delve/pkg/knowledge"
	"github.com/delvekit/delve/pkg/models"
)

// SessionRunner starts, inspects, and cancels research sessions. Satisfied
// by *orchestrator.Runner.
type SessionRunner interface {
	StartSession(query string) (string, error)
	GetSession(logID string) (*models.Session, bool)
	CancelSession(logID string) bool
}

// ResultReader serves persisted research results. Satisfied by
// *knowledge.Store.
type ResultReader interface {
	GetByLogID(ctx context.Context, logID string) (*models.ResearchResult, error)
	SearchHybrid(ctx context.Context, query string, maxResults int, w knowledge.Weights) ([]knowledge.ScoredResult, error)
	BackfillEmbeddings(ctx context.Context, batchSize int) (int, error)
}

// EventReader serves the persisted event history. Satisfied by
// *events.Store.
type EventReader interface {
	ListByLog(ctx context.Context, logID string) ([]events.StoredEvent, error)
}

// Server wires the HTTP handlers to the orchestrator and stores.
type Server struct {
	runner      SessionRunner
	results     ResultReader
	eventStore  EventReader
	coordinator *events.Coordinator
	db          *sql.DB
	weights     knowledge.Weights
}

// NewServer creates the API server. db may be nil in tests; the health
// endpoint then skips the database probe.
func NewServer(runner SessionRunner, results ResultReader, eventStore EventReader, coordinator *events.Coordinator, db *sql.DB, weights knowledge.Weights) *Server {
	return &Server{
		runner:      runner,
		results:     results,
		eventStore:  eventStore,
		coordinator: coordinator,
		db:          db,
		weights:     weights,
	}
}

// Router builds the gin engine with all routes registered. The canonical
// surface is unprefixed; the same handlers are also mounted under /api/v1.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	router.GET("/health", s.Health)

	s.mount(&router.RouterGroup)
	s.mount(router.Group("/api/v1"))

	return router
}

func (s *Server) mount(g *gin.RouterGroup) {
	research := g.Group("/research")
	research.POST("/query", s.StartResearch)
	research.GET("/sessions/:logId", s.GetSession)
	research.POST("/sessions/:logId/cancel", s.CancelSession)
	research.GET("/results/:logId", s.GetResult)
	research.GET("/events/:logId", s.ListEvents)
	research.GET("/stream/:logId", s.StreamEvents)

	g.GET("/knowledge/search", s.SearchKnowledge)
	g.POST("/admin/embeddings/backfill", s.BackfillEmbeddings)
}
