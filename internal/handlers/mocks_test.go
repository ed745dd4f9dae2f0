package handlers_test

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/monocle-dev/relay/internal/handlers"
	"github.com/monocle-dev/relay/internal/hub"
	"github.com/monocle-dev/relay/internal/middleware"
	"github.com/monocle-dev/relay/internal/models"
	"github.com/monocle-dev/relay/internal/protocol"
	"github.com/monocle-dev/relay/internal/store"
	"github.com/monocle-dev/relay/internal/types"
	"github.com/monocle-dev/relay/internal/utils"
)

type mockNotificationStore struct {
	mu      sync.Mutex
	nextID  uint
	created []models.Notification

	createFn      func(ctx context.Context, n *models.Notification) error
	listFn        func(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error)
	markReadFn    func(ctx context.Context, userID, id uint) (*models.Notification, error)
	markAllReadFn func(ctx context.Context, userID uint) (int64, error)
}

var _ store.NotificationStore = (*mockNotificationStore)(nil)

func (m *mockNotificationStore) Create(ctx context.Context, n *models.Notification) error {
	if m.createFn != nil {
		return m.createFn(ctx, n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	m.created = append(m.created, *n)
	return nil
}

func (m *mockNotificationStore) ListForUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, unreadOnly, limit)
	}
	return nil, nil
}

func (m *mockNotificationStore) MarkRead(ctx context.Context, userID, id uint) (*models.Notification, error) {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockNotificationStore) MarkAllRead(ctx context.Context, userID uint) (int64, error) {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, userID)
	}
	return 0, nil
}

func (m *mockNotificationStore) PruneRead(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type mockMembers struct {
	members map[uint]map[uint]bool
	err     error
}

func (m *mockMembers) IsMember(_ context.Context, userID, projectID uint) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.members[projectID][userID], nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// asUser stands in for AuthMiddleware.
func asUser(id uint) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(types.ContextUserKey, middleware.AuthenticatedUser{ID: id})
		c.Next()
	}
}

// startSocketServer serves the WebSocket endpoint with the user id taken
// from the uid query parameter instead of a token.
func startSocketServer(h *hub.Hub) *httptest.Server {
	ws := handlers.NewWSHandler(h, []string{"http://allowed.test"}, quietLogger())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		id, err := utils.ParseID(c.Query("uid"))
		if err == nil {
			c.Set(types.ContextUserKey, middleware.AuthenticatedUser{ID: id})
		}
		c.Next()
	}, ws.Connect)

	return httptest.NewServer(r)
}

func socketURL(srv *httptest.Server, uid uint) string {
	return fmt.Sprintf("ws%s/ws?uid=%d", strings.TrimPrefix(srv.URL, "http"), uid)
}

// dial connects and consumes the connected greeting.
func dial(srv *httptest.Server, uid uint) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(socketURL(srv, uid), nil)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	hello := nextFrame(conn)
	ExpectWithOffset(1, hello.Type).To(Equal(protocol.TypeConnected))
	return conn
}

func nextFrame(conn *websocket.Conn) protocol.Envelope {
	ExpectWithOffset(1, conn.SetReadDeadline(time.Now().Add(2*time.Second))).To(Succeed())
	var env protocol.Envelope
	ExpectWithOffset(1, conn.ReadJSON(&env)).To(Succeed())
	return env
}

// frameOf reads frames until one of the given type arrives.
func frameOf(conn *websocket.Conn, t protocol.EventType) protocol.Envelope {
	for {
		env := nextFrame(conn)
		if env.Type == t {
			return env
		}
	}
}

func send(conn *websocket.Conn, frame string) {
	ExpectWithOffset(1, conn.WriteMessage(websocket.TextMessage, []byte(frame))).To(Succeed())
}

// joinRoom joins and waits for this client's own presence update, so every
// earlier frame has been consumed.
func joinRoom(conn *websocket.Conn, project uint) {
	send(conn, fmt.Sprintf(`{"type":"join-project","project_id":"%d"}`, project))
	frameOf(conn, protocol.TypeJoined)
	frameOf(conn, protocol.TypePresence)
}

// expectNoFrame asserts nothing arrives for a short while. The connection
// cannot be read after the deadline fires, so call it last.
func expectNoFrame(conn *websocket.Conn) {
	ExpectWithOffset(1, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond))).To(Succeed())
	_, data, err := conn.ReadMessage()
	ExpectWithOffset(1, err).To(HaveOccurred(), "unexpected frame: %s", data)
}
