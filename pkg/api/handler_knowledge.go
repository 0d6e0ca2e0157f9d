package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const defaultSearchLimit = 5

// SearchKnowledge runs a hybrid search over prior research results.
func (s *Server) SearchKnowledge(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "q parameter is required"})
		return
	}

	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 50 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be between 1 and 50"})
			return
		}
		limit = n
	}

	results, err := s.results.SearchHybrid(c.Request.Context(), query, limit, s.weights)
	if err != nil {
		slog.Error("Knowledge search failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "search failed"})
		return
	}
	c.JSON(http.StatusOK, KnowledgeSearchResponse{Query: query, Results: results})
}

// BackfillEmbeddings generates embeddings for results that are missing
// one, in batches. Safe to call repeatedly.
func (s *Server) BackfillEmbeddings(c *gin.Context) {
	batchSize := 50
	if raw := c.Query("batchSize"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			batchSize = n
		}
	}

	updated, err := s.results.BackfillEmbeddings(c.Request.Context(), batchSize)
	if err != nil {
		slog.Error("Embedding backfill failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "backfill failed"})
		return
	}
	c.JSON(http.StatusOK, BackfillResponse{Updated: updated})
}
