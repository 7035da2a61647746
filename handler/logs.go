package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"nfcunha/orchestrator/core/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// streamInterval matches the cadence of the dashboard's polling loop.
const streamInterval = 200 * time.Millisecond

// LogHandler handles log-related HTTP requests.
type LogHandler struct {
	logs        *service.LogService
	defaultTail int
	upgrader    websocket.Upgrader
}

// NewLogHandler creates a new log handler. defaultTail applies when the
// request does not carry a tail parameter.
func NewLogHandler(logs *service.LogService, defaultTail int) *LogHandler {
	return &LogHandler{
		logs:        logs,
		defaultTail: defaultTail,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the router middleware
			},
		},
	}
}

// GetLogs handles GET /containers/:id/logs
// Query parameters:
//   - tail: integer (number of most recent lines, default from configuration)
func (h *LogHandler) GetLogs(c *gin.Context) {
	tail, ok := h.parseTail(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "tail must be a positive integer",
		})
		return
	}

	lines, err := h.logs.GetRecentLines(c.Request.Context(), c.Param("id"), tail)
	if err != nil {
		status, _ := classify(err)
		c.JSON(status, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"logs":   lines,
	})
}

// StreamLogs handles GET /containers/:id/logs/stream (WebSocket)
// Sends {"lines": [...]} whenever new lines appear, and {"error": ...}
// before closing when the container is unknown or removed.
// Query parameters:
//   - tail: integer (lines of history sent on connect, default from configuration)
func (h *LogHandler) StreamLogs(c *gin.Context) {
	containerID := c.Param("id")
	tail, ok := h.parseTail(c)
	if !ok {
		badRequest(c, "tail must be a positive integer")
		return
	}

	// fail before upgrading so plain HTTP clients get a normal error
	lines, offset, err := h.logs.GetLinesSince(c.Request.Context(), containerID, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.Warnf("Failed to upgrade to WebSocket: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// detect the client going away
	conn.SetReadDeadline(time.Time{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	log := logrus.WithField("container", containerID)
	log.Debug("Log stream opened")

	if err := writeJSON(conn, gin.H{"lines": lines}); err != nil {
		return
	}

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("Log stream closed by client")
			return
		case <-ticker.C:
		}

		lines, next, err := h.logs.GetLinesSince(ctx, containerID, offset)
		if err != nil {
			if errors.Is(err, service.ErrNotFound) {
				writeJSON(conn, gin.H{"error": err.Error()})
				closeStream(conn, "container not found")
				return
			}
			// transient: keep the stream and retry on the next tick
			log.Debugf("Log stream read failed: %v", err)
			continue
		}

		offset = next
		if len(lines) > 0 {
			if err := writeJSON(conn, gin.H{"lines": lines}); err != nil {
				return
			}
		}

		if h.logs.Removed(containerID) {
			writeJSON(conn, gin.H{"error": "container removed"})
			closeStream(conn, "container removed")
			return
		}
	}
}

func (h *LogHandler) parseTail(c *gin.Context) (int, bool) {
	raw := c.Query("tail")
	if raw == "" {
		return h.defaultTail, true
	}
	tail, err := strconv.Atoi(raw)
	if err != nil || tail < 1 {
		return 0, false
	}
	return tail, true
}

func writeJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(v); err != nil {
		logrus.Debugf("Failed to write to log stream: %v", err)
		return err
	}
	return nil
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
