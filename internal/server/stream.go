package server

import (
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/careertrack/backend/internal/tracker"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	streamEventSnapshot  = "tracker-snapshot"
	streamEventHeartbeat = "heartbeat"
	streamSource         = "careertrack-backend"
)

type snapshotPayload struct {
	Applications []applicationPayload `json:"applications"`
	Counts       stageCountsPayload   `json:"counts"`
	Timestamp    time.Time            `json:"timestamp"`
}

type heartbeatPayload struct {
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// handleStream pushes the full tracked collection on connect and after every
// mutation. Slow readers skip intermediate snapshots.
func (h *httpHandler) handleStream(c *gin.Context) {
	userID := tracker.UserID(c.GetString(userIDContextKey))
	ctx := c.Request.Context()
	snapshots, cancel, err := h.tracker.Subscribe(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	defer cancel()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.logger.Debug("tracker stream opened", zap.String("user_id", userID.String()))
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case snapshot, ok := <-snapshots:
			if !ok {
				return false
			}
			c.SSEvent(streamEventSnapshot, snapshotPayload{
				Applications: toApplicationPayloads(snapshot.Applications),
				Counts:       toStageCountsPayload(snapshot.Counts),
				Timestamp:    snapshot.Timestamp,
			})
			return true
		case tick := <-ticker.C:
			c.SSEvent(streamEventHeartbeat, heartbeatPayload{Source: streamSource, Timestamp: tick.UTC()})
			return true
		}
	})
	h.logger.Debug("tracker stream closed", zap.String("user_id", userID.String()))
}
