package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/delvekit/delve/pkg/events"
)

// StreamEvents streams a session's events over SSE until the session
// reaches a terminal event or the client disconnects. Subscribing to a
// finished or unknown session is allowed; the stream simply stays silent.
func (s *Server) StreamEvents(c *gin.Context) {
	logID := c.Param("logId")

	sub := s.coordinator.Subscribe(logID)
	defer s.coordinator.Unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	for {
		select {
		case env, ok := <-sub.Events():
			if !ok {
				return
			}
			c.SSEvent(env.EventType, env)
			c.Writer.Flush()
			if env.EventType == events.EventSessionCompleted || env.EventType == events.EventSessionFailed {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}
