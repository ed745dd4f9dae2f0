package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/metrics"
	"github.com/monocle-dev/relay/internal/models"
	"github.com/monocle-dev/relay/internal/protocol"
	"github.com/monocle-dev/relay/internal/store"
	"github.com/monocle-dev/relay/internal/utils"
)

type NotifyRequest struct {
	UserID  uint            `json:"user_id" binding:"required"`
	Type    string          `json:"type" binding:"required"`
	Title   string          `json:"title" binding:"required"`
	Message string          `json:"message"`
	Link    string          `json:"link"`
	Data    json.RawMessage `json:"data"`
}

type RefreshRequest struct {
	Reason string `json:"reason"`
	Entity string `json:"entity"`
}

// WebhookHandler serves the endpoints the web tier calls after it has
// persisted a change.
type WebhookHandler struct {
	hub   *hub.Hub
	store store.NotificationStore
	log   logrus.FieldLogger
}

func NewWebhookHandler(h *hub.Hub, s store.NotificationStore, log logrus.FieldLogger) *WebhookHandler {
	return &WebhookHandler{hub: h, store: s, log: log}
}

// Notify stores a notification and pushes it to the user's open sockets.
func (h *WebhookHandler) Notify(ctx *gin.Context) {
	var body NotifyRequest

	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if len(body.Data) > 0 && !isJSONObject(body.Data) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "data must be a JSON object"})
		return
	}

	notification := models.Notification{
		UserID:  body.UserID,
		Type:    body.Type,
		Title:   body.Title,
		Message: body.Message,
		Link:    body.Link,
	}
	if len(body.Data) > 0 {
		notification.Data = datatypes.JSON(body.Data)
	}

	if err := h.store.Create(ctx.Request.Context(), &notification); err != nil {
		h.log.WithError(err).WithField("user_id", body.UserID).Error("failed to store notification")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store notification"})
		return
	}

	response := toNotificationResponse(notification)

	payload, err := json.Marshal(response)
	if err != nil {
		h.log.WithError(err).Error("failed to encode notification")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	env := protocol.NewEnvelope(protocol.TypeNotification, 0)
	env.Payload = payload
	h.hub.NotifyUser(ctx.Request.Context(), body.UserID, env)
	metrics.NotificationsPushed.WithLabelValues(body.Type).Inc()

	ctx.JSON(http.StatusAccepted, response)
}

// Refresh tells every client in a project room to refetch server state.
func (h *WebhookHandler) Refresh(ctx *gin.Context) {
	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body RefreshRequest
	if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
			return
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	env := protocol.NewEnvelope(protocol.TypeRefresh, projectID)
	env.Payload = payload
	h.hub.BroadcastRoom(ctx.Request.Context(), projectID, env)

	ctx.JSON(http.StatusAccepted, gin.H{"id": env.ID, "project_id": projectID})
}

func isJSONObject(raw json.RawMessage) bool {
	var obj map[string]json.RawMessage
	return json.Unmarshal(raw, &obj) == nil && obj != nil
}
