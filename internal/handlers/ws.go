package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/utils"
)

type WSHandler struct {
	hub      *hub.Hub
	upgrader websocket.Upgrader
	log      logrus.FieldLogger
}

func NewWSHandler(h *hub.Hub, allowedOrigins []string, log logrus.FieldLogger) *WSHandler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &WSHandler{
		hub: h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin; they still need a token.
				if origin == "" {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		log: log,
	}
}

// Connect upgrades an authenticated request and serves the socket until it
// closes.
func (h *WSHandler) Connect(ctx *gin.Context) {
	user, err := utils.CurrentUser(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	conn, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		h.log.WithError(err).WithField("user_id", user.ID).Warn("websocket upgrade failed")
		return
	}

	client := h.hub.Register(user.ID)
	h.log.WithFields(logrus.Fields{
		"user_id":   user.ID,
		"client_id": client.ID,
	}).Info("websocket connected")

	client.Serve(ctx.Request.Context(), conn)

	h.log.WithField("client_id", client.ID).Info("websocket closed")
}
