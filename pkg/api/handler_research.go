package api

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/delvekit/delve/pkg/orchestrator"
)

// StartResearch accepts a research query and launches a session. The
// response returns immediately with the logId; progress arrives over the
// event stream.
func (s *Server) StartResearch(c *gin.Context) {
	var req StartResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	logID, err := s.runner.StartSession(strings.TrimSpace(req.Query))
	if err != nil {
		if errors.Is(err, orchestrator.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
		slog.Error("Failed to start session", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to start session"})
		return
	}

	c.JSON(http.StatusAccepted, StartResearchResponse{LogID: logID, Status: "accepted"})
}

// GetSession returns the live state of a session tracked by this process.
func (s *Server) GetSession(c *gin.Context) {
	session, ok := s.runner.GetSession(c.Param("logId"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}

	resp := SessionResponse{
		LogID:     session.LogID,
		Query:     session.Query,
		Status:    session.Status,
		StartedAt: session.StartedAt.Format(time.RFC3339),
	}
	if session.FinishedAt != nil {
		resp.FinishedAt = session.FinishedAt.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// CancelSession cancels a running session. Cancelling an unknown or already
// finished session is a 404.
func (s *Server) CancelSession(c *gin.Context) {
	logID := c.Param("logId")
	session, ok := s.runner.GetSession(logID)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "session not found"})
		return
	}
	if session.Status.Terminal() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "session already finished"})
		return
	}

	s.runner.CancelSession(logID)
	c.JSON(http.StatusOK, CancelResponse{LogID: logID, Message: "cancellation requested"})
}

// GetResult returns the persisted research result for a completed session.
func (s *Server) GetResult(c *gin.Context) {
	result, err := s.results.GetByLogID(c.Request.Context(), c.Param("logId"))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "result not found"})
			return
		}
		slog.Error("Failed to load result", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load result"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListEvents returns the persisted event history for a session in insertion
// order. An unknown logId returns an empty list, not a 404: events may not
// have been written yet for a session that just started.
func (s *Server) ListEvents(c *gin.Context) {
	history, err := s.eventStore.ListByLog(c.Request.Context(), c.Param("logId"))
	if err != nil {
		slog.Error("Failed to load event history", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": history})
}
