package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/models"
	"github.com/monocle-dev/relay/internal/store"
	"github.com/monocle-dev/relay/internal/utils"
)

type NotificationResponse struct {
	ID        uint            `json:"id"`
	UserID    uint            `json:"user_id"`
	Type      string          `json:"type"`
	Title     string          `json:"title"`
	Message   string          `json:"message,omitempty"`
	Link      string          `json:"link,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	ReadAt    *time.Time      `json:"read_at"`
	CreatedAt time.Time       `json:"created_at"`
}

func toNotificationResponse(n models.Notification) NotificationResponse {
	resp := NotificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Link:      n.Link,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
	if len(n.Data) > 0 {
		resp.Data = json.RawMessage(n.Data)
	}
	return resp
}

type NotificationHandler struct {
	store store.NotificationStore
	log   logrus.FieldLogger
}

func NewNotificationHandler(s store.NotificationStore, log logrus.FieldLogger) *NotificationHandler {
	return &NotificationHandler{store: s, log: log}
}

func (h *NotificationHandler) List(ctx *gin.Context) {
	userID, err := utils.CurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	unreadOnly := ctx.Query("unread") == "true"
	limit, _ := strconv.Atoi(ctx.DefaultQuery("limit", "50"))

	notifications, err := h.store.ListForUser(ctx.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("failed to list notifications")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve notifications"})
		return
	}

	response := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		response = append(response, toNotificationResponse(n))
	}

	ctx.JSON(http.StatusOK, response)
}

func (h *NotificationHandler) MarkRead(ctx *gin.Context) {
	userID, err := utils.CurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	id, err := utils.GetNotificationID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.store.MarkRead(ctx.Request.Context(), userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		h.log.WithError(err).WithField("user_id", userID).Error("failed to mark notification read")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}

	ctx.JSON(http.StatusOK, toNotificationResponse(*n))
}

func (h *NotificationHandler) MarkAllRead(ctx *gin.Context) {
	userID, err := utils.CurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	updated, err := h.store.MarkAllRead(ctx.Request.Context(), userID)
	if err != nil {
		h.log.WithError(err).WithField("user_id", userID).Error("failed to mark notifications read")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notifications"})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"updated": updated})
}
