package hub

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Client is one WebSocket connection. rooms, present and closed are guarded
// by the hub's mutex. present holds the rooms whose presence entry this
// client has recorded and still owes a removal for.
type Client struct {
	ID     string
	UserID uint

	hub     *Hub
	send    chan []byte
	limiter *rate.Limiter
	log     logrus.FieldLogger

	rooms   map[uint]struct{}
	present map[uint]struct{}
	closed  bool
}

func newClient(h *Hub, userID uint) *Client {
	id := uuid.NewString()
	return &Client{
		ID:      id,
		UserID:  userID,
		hub:     h,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(h.rateLimit, h.burst),
		log: h.log.WithFields(logrus.Fields{
			"client_id": id,
			"user_id":   userID,
		}),
		rooms:   make(map[uint]struct{}),
		present: make(map[uint]struct{}),
	}
}

// Serve pumps frames between the connection and the hub until either side
// closes. It blocks on the read loop.
func (c *Client) Serve(ctx context.Context, conn *websocket.Conn) {
	go c.writePump(conn)
	c.readPump(ctx, conn)
}

func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		c.hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.WithError(err).Warn("failed to set initial read deadline")
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.log.WithError(err).Info("websocket closed unexpectedly")
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		c.hub.HandleMessage(ctx, c, message)
	}
}

func (c *Client) writePump(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.WithError(err).Debug("write failed")
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
