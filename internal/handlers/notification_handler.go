package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/work-manager-team/Work-Management-sub001/internal/metrics"
	"github.com/work-manager-team/Work-Management-sub001/internal/realtime"
	"github.com/work-manager-team/Work-Management-sub001/internal/sessionlog"
)

// TriggerRequest is the body of POST /notifications/trigger. Every targeting
// field that is present contributes rooms; notification is relayed verbatim.
type TriggerRequest struct {
	UserID       *realtime.ID    `json:"userId"`
	UserIDs      []realtime.ID   `json:"userIds"`
	ProjectID    *realtime.ID    `json:"projectId"`
	Notification json.RawMessage `json:"notification" binding:"required"`
}

// rooms returns the target rooms and the metrics label describing them.
func (r TriggerRequest) rooms() ([]string, string, error) {
	var rooms []string
	var kinds []string

	if r.UserID != nil {
		if *r.UserID <= 0 {
			return nil, "", errors.New("userId must be positive")
		}
		rooms = append(rooms, realtime.UserRoom(int64(*r.UserID)))
		kinds = append(kinds, "user")
	}
	if len(r.UserIDs) > 0 {
		for _, id := range r.UserIDs {
			if id <= 0 {
				return nil, "", errors.New("userIds must be positive")
			}
			rooms = append(rooms, realtime.UserRoom(int64(id)))
		}
		kinds = append(kinds, "users")
	}
	if r.ProjectID != nil {
		if *r.ProjectID <= 0 {
			return nil, "", errors.New("projectId must be positive")
		}
		rooms = append(rooms, realtime.ProjectRoom(int64(*r.ProjectID)))
		kinds = append(kinds, "project")
	}

	switch len(kinds) {
	case 0:
		return nil, "none", nil
	case 1:
		return rooms, kinds[0], nil
	default:
		return rooms, "mixed", nil
	}
}

// NotificationHandler serves the HTTP side of the gateway.
type NotificationHandler struct {
	gateway  *realtime.Gateway
	sessions *sessionlog.Store
	metrics  *metrics.Metrics
	log      *zap.Logger
	now      func() time.Time
}

// NewNotificationHandler wires the trigger and status endpoints. sessions may
// be nil when the session log is disabled.
func NewNotificationHandler(gateway *realtime.Gateway, sessions *sessionlog.Store, m *metrics.Metrics, log *zap.Logger) *NotificationHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &NotificationHandler{
		gateway:  gateway,
		sessions: sessions,
		metrics:  m,
		log:      log,
		now:      time.Now,
	}
}

// Trigger fans a notification out to the requested rooms. The response does
// not say how many connections received it.
func (h *NotificationHandler) Trigger(c *gin.Context) {
	var req TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if bytes.Equal(bytes.TrimSpace(req.Notification), []byte("null")) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "notification is required"})
		return
	}

	rooms, target, err := req.rooms()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.metrics.Trigger(target)

	if len(rooms) == 0 {
		h.log.Info("trigger without target ignored")
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "No target specified"})
		return
	}

	delivered, err := h.gateway.Notify(rooms, req.Notification)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("notification triggered",
		zap.Strings("rooms", rooms),
		zap.Int("delivered", delivered),
	)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Notification sent"})
}

func (h *NotificationHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"service":   "notification-gateway",
		"timestamp": h.now().UTC().Format(time.RFC3339),
	})
}

func (h *NotificationHandler) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.gateway.Stats())
}

// Sessions lists recent connection sessions, newest first.
// Query: userId (optional), limit (default 50, max 500).
func (h *NotificationHandler) Sessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session log disabled"})
		return
	}

	var userID int64
	if raw := c.Query("userId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
			return
		}
		userID = id
	}
	limit := sessionlog.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	sessions, err := h.sessions.Recent(c.Request.Context(), userID, limit)
	if err != nil {
		h.log.Error("list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}
