package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/delvekit/delve/pkg/database"
	"github.com/delvekit/delve/pkg/version"
)

// Health reports service liveness and database reachability.
func (s *Server) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:   "healthy",
		Version:  version.Full(),
		Database: "ok",
	}

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := database.Health(ctx, s.db); err != nil {
			resp.Status = "unhealthy"
			resp.Database = "unreachable"
			resp.Error = err.Error()
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
	} else {
		resp.Database = "not configured"
	}

	c.JSON(http.StatusOK, resp)
}
