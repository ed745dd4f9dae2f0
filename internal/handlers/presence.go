package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/store"
	"github.com/monocle-dev/relay/internal/utils"
)

type PresenceHandler struct {
	hub     *hub.Hub
	members store.MembershipStore
	log     logrus.FieldLogger
}

func NewPresenceHandler(h *hub.Hub, members store.MembershipStore, log logrus.FieldLogger) *PresenceHandler {
	return &PresenceHandler{hub: h, members: members, log: log}
}

func (h *PresenceHandler) Get(ctx *gin.Context) {
	userID, err := utils.CurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	projectID, err := utils.GetProjectID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.members.IsMember(ctx.Request.Context(), userID, projectID)
	if err != nil {
		h.log.WithError(err).WithField("project_id", projectID).Error("membership lookup failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "Project not found"})
		return
	}

	users, err := h.hub.Presence(ctx.Request.Context(), projectID)
	if err != nil {
		h.log.WithError(err).WithField("project_id", projectID).Error("presence lookup failed")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if users == nil {
		users = []uint{}
	}

	ctx.JSON(http.StatusOK, gin.H{"project_id": projectID, "users": users})
}
