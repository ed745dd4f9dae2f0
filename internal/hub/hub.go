// Package hub keeps the project rooms of one relay instance and fans
// client events out to them.
//
// Every client gets a buffered outbound channel drained by its own writer
// goroutine. Broadcasts never block on a socket: a client whose buffer is
// full is dropped. Envelopes are delivered to local sockets directly and
// published on the bus for the other instances.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/monocle-dev/relay/internal/bus"
	"github.com/monocle-dev/relay/internal/metrics"
	"github.com/monocle-dev/relay/internal/presence"
	"github.com/monocle-dev/relay/internal/protocol"
)

var (
	ErrNotMember   = errors.New("not a member of this project")
	ErrNotJoined   = errors.New("join the project room first")
	ErrRateLimited = errors.New("too many messages")
	ErrForeignTask = errors.New("task does not belong to this project")
)

const (
	defaultRate  = 20
	defaultBurst = 40

	cleanupTimeout = 5 * time.Second
)

type MembershipChecker interface {
	IsMember(ctx context.Context, userID, projectID uint) (bool, error)
}

// TaskChecker confirms a task sits on a project's board.
type TaskChecker interface {
	InProject(ctx context.Context, taskID, projectID uint) (bool, error)
}

// Options configures a Hub. InstanceID identifies this process on the bus
// and is generated when empty. Tasks, when set, is consulted before task
// events are relayed.
type Options struct {
	InstanceID string
	Bus        bus.Bus
	Members    MembershipChecker
	Tasks      TaskChecker
	Presence   presence.Tracker
	RateLimit  rate.Limit
	Burst      int
	Log        logrus.FieldLogger
}

type Hub struct {
	instanceID string
	bus        bus.Bus
	members    MembershipChecker
	tasks      TaskChecker
	presence   presence.Tracker
	rateLimit  rate.Limit
	burst      int
	log        logrus.FieldLogger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[uint]map[*Client]struct{}
	users   map[uint]map[*Client]struct{}
}

func New(opts Options) *Hub {
	h := &Hub{
		instanceID: opts.InstanceID,
		bus:        opts.Bus,
		members:    opts.Members,
		tasks:      opts.Tasks,
		presence:   opts.Presence,
		rateLimit:  opts.RateLimit,
		burst:      opts.Burst,
		log:        opts.Log,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[uint]map[*Client]struct{}),
		users:      make(map[uint]map[*Client]struct{}),
	}

	if h.instanceID == "" {
		h.instanceID = uuid.NewString()
	}
	if h.bus == nil {
		h.bus = bus.NewLocalBus()
	}
	if h.presence == nil {
		h.presence = presence.NewMemoryTracker()
	}
	if h.rateLimit <= 0 {
		h.rateLimit = defaultRate
	}
	if h.burst <= 0 {
		h.burst = defaultBurst
	}
	if h.log == nil {
		h.log = logrus.StandardLogger()
	}

	return h
}

func (h *Hub) InstanceID() string {
	return h.instanceID
}

// Run subscribes to the bus and blocks until ctx is done, then disconnects
// every local client.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.bus.Subscribe(ctx, h.onRemote); err != nil {
		return err
	}

	h.log.WithField("instance_id", h.instanceID).Info("hub running")
	<-ctx.Done()

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Unregister(c)
	}

	h.log.WithField("clients", len(clients)).Info("hub stopped")
	return nil
}

// Register adds a client for an authenticated user and greets it.
func (h *Hub) Register(userID uint) *Client {
	c := newClient(h, userID)

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.users[userID] == nil {
		h.users[userID] = make(map[*Client]struct{})
	}
	h.users[userID][c] = struct{}{}
	h.mu.Unlock()

	metrics.ConnectedClients.Inc()
	c.log.Debug("client registered")

	env := protocol.NewEnvelope(protocol.TypeConnected, 0)
	env.ClientID = c.ID
	h.sendTo(c, env)

	return c
}

// Unregister removes the client from every room and closes its outbound
// channel. It is safe to call more than once.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return
	}
	c.closed = true

	left := make([]uint, 0, len(c.rooms))
	for room := range c.rooms {
		left = append(left, room)
		h.removeFromRoomLocked(c, room)
	}

	// Rooms whose presence add is still in flight are not listed here;
	// Join undoes those itself once it sees the client is closed.
	owed := make([]uint, 0, len(c.present))
	for room := range c.present {
		owed = append(owed, room)
	}
	clear(c.present)

	if sockets, ok := h.users[c.UserID]; ok {
		delete(sockets, c)
		if len(sockets) == 0 {
			delete(h.users, c.UserID)
		}
	}
	delete(h.clients, c)
	close(c.send)
	roomCount := len(h.rooms)
	h.mu.Unlock()

	metrics.ConnectedClients.Dec()
	metrics.ActiveRooms.Set(float64(roomCount))
	c.log.Debug("client unregistered")

	if len(left) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	for _, room := range owed {
		if err := h.presence.Remove(ctx, room, c.UserID); err != nil {
			c.log.WithError(err).WithField("project_id", room).Warn("failed to clear presence")
		}
	}
	for _, room := range left {
		h.broadcastPresence(ctx, room)
	}
}

// HandleMessage decodes one client frame and dispatches it. Protocol
// errors are answered with an error frame; the connection stays open.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, data []byte) {
	// Every frame costs a token, malformed ones included.
	allowed := c.limiter.Allow()

	in, err := protocol.Decode(data)
	if !allowed {
		h.reject(c, in, protocol.CodeRateLimited, ErrRateLimited)
		return
	}
	if err != nil {
		h.reject(c, in, protocol.CodeFor(err), err)
		return
	}

	switch in.Type {
	case protocol.TypePing:
		h.sendTo(c, protocol.Reply(protocol.TypePong, in))
		return
	case protocol.TypeJoinProject:
		err = h.Join(ctx, c, in)
	case protocol.TypeLeaveProject:
		err = h.Leave(ctx, c, in)
	default:
		err = h.Relay(ctx, c, in)
	}

	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrNotMember), errors.Is(err, ErrForeignTask):
		h.reject(c, in, protocol.CodeForbidden, err)
	case errors.Is(err, protocol.ErrInvalidPayload):
		h.reject(c, in, protocol.CodeBadRequest, err)
	case errors.Is(err, ErrNotJoined):
		h.reject(c, in, protocol.CodeNotJoined, err)
	default:
		c.log.WithError(err).WithField("type", in.Type).Error("failed to handle client event")
		h.reject(c, in, protocol.CodeInternal, errors.New("internal error"))
	}
}

// Join adds the client to the project's room after checking membership.
// Joining a room twice only re-acknowledges.
func (h *Hub) Join(ctx context.Context, c *Client, in protocol.Inbound) error {
	ok, err := h.members.IsMember(ctx, c.UserID, in.Project)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}

	h.mu.Lock()
	if c.closed {
		h.mu.Unlock()
		return nil
	}
	_, already := c.rooms[in.Project]
	if !already {
		c.rooms[in.Project] = struct{}{}
		if h.rooms[in.Project] == nil {
			h.rooms[in.Project] = make(map[*Client]struct{})
		}
		h.rooms[in.Project][c] = struct{}{}
	}
	roomCount := len(h.rooms)
	h.mu.Unlock()

	h.sendTo(c, protocol.Reply(protocol.TypeJoined, in))

	if already {
		return nil
	}

	metrics.ActiveRooms.Set(float64(roomCount))
	c.log.WithField("project_id", in.Project).Debug("joined room")

	if err := h.presence.Add(ctx, in.Project, c.UserID); err != nil {
		c.log.WithError(err).WithField("project_id", in.Project).Warn("failed to record presence")
	} else if !h.markPresent(c, in.Project) {
		// The client left or disconnected while the add was in flight.
		if err := h.presence.Remove(ctx, in.Project, c.UserID); err != nil {
			c.log.WithError(err).WithField("project_id", in.Project).Warn("failed to clear presence")
		}
	}
	h.broadcastPresence(ctx, in.Project)

	return nil
}

// Leave removes the client from the room. Leaving a room the client never
// joined is acknowledged all the same.
func (h *Hub) Leave(ctx context.Context, c *Client, in protocol.Inbound) error {
	h.mu.Lock()
	_, was := c.rooms[in.Project]
	_, owed := c.present[in.Project]
	if was {
		h.removeFromRoomLocked(c, in.Project)
	}
	delete(c.present, in.Project)
	roomCount := len(h.rooms)
	h.mu.Unlock()

	h.sendTo(c, protocol.Reply(protocol.TypeLeft, in))

	if !was {
		return nil
	}

	metrics.ActiveRooms.Set(float64(roomCount))
	c.log.WithField("project_id", in.Project).Debug("left room")

	if owed {
		if err := h.presence.Remove(ctx, in.Project, c.UserID); err != nil {
			c.log.WithError(err).WithField("project_id", in.Project).Warn("failed to clear presence")
		}
	}
	h.broadcastPresence(ctx, in.Project)

	return nil
}

// Relay stamps a client event and forwards it to every other member of
// the room, on every instance. The sender gets an ack carrying the id.
func (h *Hub) Relay(ctx context.Context, c *Client, in protocol.Inbound) error {
	h.mu.RLock()
	_, joined := c.rooms[in.Project]
	h.mu.RUnlock()

	if !joined {
		return ErrNotJoined
	}

	if h.tasks != nil && in.Type.TaskEvent() {
		if err := h.checkTask(ctx, in); err != nil {
			return err
		}
	}

	env := protocol.NewEnvelope(in.Type, in.Project)
	env.SenderID = c.UserID
	env.Payload = in.Payload

	h.publishRoom(ctx, in.Project, env, c.ID)
	metrics.EventsRelayed.WithLabelValues(string(in.Type)).Inc()

	ack := protocol.Reply(protocol.TypeAck, in)
	ack.ID = env.ID
	h.sendTo(c, ack)

	return nil
}

// BroadcastRoom sends a server-originated envelope to everyone in a room.
func (h *Hub) BroadcastRoom(ctx context.Context, room uint, env protocol.Envelope) {
	h.publishRoom(ctx, room, env, "")
}

// NotifyUser sends an envelope to every socket of one user, on every
// instance.
func (h *Hub) NotifyUser(ctx context.Context, userID uint, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		h.log.WithError(err).Error("failed to encode notification")
		return
	}

	h.deliverUser(userID, data)
	h.publish(ctx, bus.Message{Origin: h.instanceID, UserID: userID, Envelope: env})
}

func (h *Hub) Presence(ctx context.Context, room uint) ([]uint, error) {
	return h.presence.List(ctx, room)
}

// Stats reports local client and room counts.
func (h *Hub) Stats() (clients, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

func (h *Hub) broadcastPresence(ctx context.Context, room uint) {
	users, err := h.presence.List(ctx, room)
	if err != nil {
		h.log.WithError(err).WithField("project_id", room).Warn("failed to list presence")
		return
	}

	env := protocol.NewEnvelope(protocol.TypePresence, room)
	env.Payload = protocol.PresencePayload(users)
	h.publishRoom(ctx, room, env, "")
}

func (h *Hub) publishRoom(ctx context.Context, room uint, env protocol.Envelope, exclude string) {
	data, err := protocol.Encode(env)
	if err != nil {
		h.log.WithError(err).WithField("project_id", room).Error("failed to encode envelope")
		return
	}

	h.deliverRoom(room, data, exclude)
	h.publish(ctx, bus.Message{Origin: h.instanceID, ExcludeClient: exclude, Room: room, Envelope: env})
}

func (h *Hub) publish(ctx context.Context, msg bus.Message) {
	if err := h.bus.Publish(ctx, msg); err != nil {
		metrics.BusPublishFailures.Inc()
		h.log.WithError(err).WithField("type", msg.Envelope.Type).Warn("bus publish failed, delivered locally only")
	}
}

func (h *Hub) onRemote(msg bus.Message) {
	if msg.Origin == h.instanceID {
		return
	}

	data, err := protocol.Encode(msg.Envelope)
	if err != nil {
		h.log.WithError(err).Warn("failed to encode remote envelope")
		return
	}

	switch {
	case msg.Room != 0:
		h.deliverRoom(msg.Room, data, msg.ExcludeClient)
	case msg.UserID != 0:
		h.deliverUser(msg.UserID, data)
	}
}

func (h *Hub) deliverRoom(room uint, data []byte, exclude string) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c.ID != exclude {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, data)
	}
}

func (h *Hub) deliverUser(userID uint, data []byte) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.enqueue(c, data)
	}
}

func (h *Hub) sendTo(c *Client, env protocol.Envelope) {
	data, err := protocol.Encode(env)
	if err != nil {
		c.log.WithError(err).Error("failed to encode reply")
		return
	}
	h.enqueue(c, data)
}

func (h *Hub) reject(c *Client, in protocol.Inbound, code protocol.ErrorCode, err error) {
	metrics.EventsRejected.WithLabelValues(string(code)).Inc()
	h.sendTo(c, protocol.ErrorReply(in, code, err))
}

// enqueue never blocks. A full buffer means the client stopped reading and
// it is dropped.
func (h *Hub) enqueue(c *Client, data []byte) {
	h.mu.RLock()
	if c.closed {
		h.mu.RUnlock()
		return
	}
	var delivered bool
	select {
	case c.send <- data:
		delivered = true
	default:
	}
	h.mu.RUnlock()

	if !delivered {
		metrics.ClientsDropped.Inc()
		c.log.Warn("outbound buffer full, dropping client")
		h.Unregister(c)
	}
}

func (h *Hub) checkTask(ctx context.Context, in protocol.Inbound) error {
	taskID, err := protocol.TaskID(in.Payload)
	if err != nil {
		return err
	}

	ok, err := h.tasks.InProject(ctx, taskID, in.Project)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForeignTask
	}
	return nil
}

// markPresent records that c owns a presence entry for room. It reports
// false when c is no longer in the room, in which case the caller must undo
// its add.
func (h *Hub) markPresent(c *Client, room uint) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, in := c.rooms[room]; c.closed || !in {
		return false
	}
	c.present[room] = struct{}{}
	return true
}

func (h *Hub) removeFromRoomLocked(c *Client, room uint) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}
