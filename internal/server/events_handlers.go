package server

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

const realtimeHeartbeatInterval = 25 * time.Second

// handleCaseEvents streams save-status transitions of one case as server-sent events.
func (h *httpHandler) handleCaseEvents(c *gin.Context) {
	owner := c.GetString(ownerContextKey)
	record, err := h.cases.GetOwned(c.Request.Context(), owner, c.Param("id"))
	if err != nil {
		h.respondError(c, "case lookup failed", err)
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, owner, record.ID)
	defer cleanup()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventReady, gin.H{"caseId": record.ID, "source": realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, message.Event)
			return true
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend, "at": h.clock().UTC()})
			return true
		}
	})
}
