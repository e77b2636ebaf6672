// Package realtime holds the in-memory side of the notification gateway: the
// user connection registry, the room router and the Gateway that owns both.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
	"github.com/work-manager-team/Work-Management-sub001/internal/metrics"
)

// ErrGatewayClosed is returned by Connect once Shutdown has started.
var ErrGatewayClosed = errors.New("gateway is shutting down")

// TokenVerifier resolves a bearer token to a user ID.
type TokenVerifier interface {
	Verify(token string) (int64, error)
}

// Stats is the operational view of the registry.
type Stats struct {
	TotalUsers   int               `json:"totalUsers"`
	TotalSockets int               `json:"totalSockets"`
	Users        []UserConnections `json:"users"`
}

// Gateway owns every connection's lifecycle together with the Registry and
// Router. One mutex guards both structures so a connection is never left in
// one but not the other. Frames are always sent outside the lock, except the
// connected frame which is queued before the connection becomes visible to
// broadcasts.
type Gateway struct {
	verifier TokenVerifier
	log      *zap.Logger
	metrics  *metrics.Metrics
	newID    func() string
	now      func() time.Time

	mu       sync.Mutex
	closing  bool
	registry *Registry
	router   *Router
	conns    map[string]*Connection
}

// Option customizes a Gateway.
type Option func(*Gateway)

func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithIDGenerator replaces the UUID connection ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(g *Gateway) { g.newID = fn }
}

func NewGateway(verifier TokenVerifier, opts ...Option) *Gateway {
	g := &Gateway{
		verifier: verifier,
		log:      zap.NewNop(),
		newID:    uuid.NewString,
		now:      time.Now,
		registry: NewRegistry(),
		router:   NewRouter(),
		conns:    make(map[string]*Connection),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Connect authenticates a new transport session. On failure the returned
// error wraps the verifier's error, nothing is registered and nothing is sent;
// the caller must close the transport. On success the connection is in the
// registry and its personal room, and a connected frame has been queued.
func (g *Gateway) Connect(token string, client Client, remoteAddr string) (*Connection, error) {
	conn := &Connection{
		ID:         g.newID(),
		RemoteAddr: remoteAddr,
		client:     client,
		rooms:      make(map[string]struct{}),
	}
	conn.setState(StateConnecting)

	userID, err := g.verifier.Verify(token)
	if err != nil {
		conn.setState(StateClosed)
		reason := "invalid"
		if errors.Is(err, auth.ErrExpiredToken) {
			reason = "expired"
		}
		g.metrics.AuthFailure(reason)
		g.log.Warn("connection rejected",
			zap.String("remote", remoteAddr),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return nil, fmt.Errorf("authenticate connection: %w", err)
	}

	connected, err := EncodeFrame(EventConnected, nil, map[string]int64{"userId": userID})
	if err != nil {
		conn.setState(StateClosed)
		return nil, err
	}

	conn.UserID = userID
	conn.ConnectedAt = g.now()
	personal := UserRoom(userID)

	g.mu.Lock()
	if g.closing {
		conn.setState(StateClosed)
		g.mu.Unlock()
		return nil, ErrGatewayClosed
	}
	conn.setState(StateAuthenticated)
	g.conns[conn.ID] = conn
	g.registry.Register(userID, conn.ID)
	g.router.Join(personal, conn.ID)
	conn.rooms[personal] = struct{}{}
	client.Send(connected)
	g.updatePopulationLocked()
	sockets := g.registry.ActiveConnectionCount(userID)
	g.mu.Unlock()

	g.log.Info("client connected",
		zap.String("conn", conn.ID),
		zap.Int64("user", userID),
		zap.String("remote", remoteAddr),
		zap.Int("userSockets", sockets),
	)
	return conn, nil
}

// Disconnect removes the connection from the registry and from every room it
// joined, then closes its transport. Calling it again is a no-op.
func (g *Gateway) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}

	g.mu.Lock()
	if conn.State() != StateAuthenticated {
		conn.setState(StateClosed)
		g.mu.Unlock()
		return
	}
	for room := range conn.rooms {
		g.router.Leave(room, conn.ID)
	}
	left := len(conn.rooms)
	conn.rooms = make(map[string]struct{})
	g.registry.Unregister(conn.UserID, conn.ID)
	delete(g.conns, conn.ID)
	conn.setState(StateClosed)
	g.updatePopulationLocked()
	remaining := g.registry.ActiveConnectionCount(conn.UserID)
	g.mu.Unlock()

	conn.client.Close()
	g.log.Info("client disconnected",
		zap.String("conn", conn.ID),
		zap.Int64("user", conn.UserID),
		zap.Int("roomsLeft", left),
		zap.Int("userSockets", remaining),
		zap.Duration("duration", g.now().Sub(conn.ConnectedAt)),
	)
}

// Handle executes one client message and returns the ack to send back.
func (g *Gateway) Handle(conn *Connection, msg ClientMessage) Ack {
	var ack Ack
	switch m := msg.(type) {
	case SubscribeProject:
		ack = g.Subscribe(conn, int64(m.ProjectID))
	case UnsubscribeProject:
		ack = g.Unsubscribe(conn, int64(m.ProjectID))
	case MarkRead:
		ack = g.MarkRead(conn, int64(m.NotificationID))
	default:
		ack = Ack{Success: false, Message: fmt.Sprintf("unsupported message %T", msg)}
	}

	outcome := "ok"
	if !ack.Success {
		outcome = "rejected"
	}
	event := "unknown"
	if msg != nil {
		event = msg.Event()
	}
	g.metrics.ClientMessage(event, outcome)
	return ack
}

var notAuthenticated = Ack{Success: false, Message: "not authenticated"}

// Subscribe joins the connection to the project's room.
func (g *Gateway) Subscribe(conn *Connection, projectID int64) Ack {
	room := ProjectRoom(projectID)

	g.mu.Lock()
	if conn.State() != StateAuthenticated {
		g.mu.Unlock()
		return notAuthenticated
	}
	g.router.Join(room, conn.ID)
	conn.rooms[room] = struct{}{}
	g.updatePopulationLocked()
	g.mu.Unlock()

	g.log.Debug("subscribed", zap.String("conn", conn.ID), zap.String("room", room))
	return Ack{Success: true, Message: fmt.Sprintf("Subscribed to project %d", projectID)}
}

// Unsubscribe removes the connection from the project's room. Leaving a room
// the connection never joined still succeeds.
func (g *Gateway) Unsubscribe(conn *Connection, projectID int64) Ack {
	room := ProjectRoom(projectID)

	g.mu.Lock()
	if conn.State() != StateAuthenticated {
		g.mu.Unlock()
		return notAuthenticated
	}
	g.router.Leave(room, conn.ID)
	delete(conn.rooms, room)
	g.mu.Unlock()

	g.log.Debug("unsubscribed", zap.String("conn", conn.ID), zap.String("room", room))
	return Ack{Success: true, Message: fmt.Sprintf("Unsubscribed from project %d", projectID)}
}

// MarkRead relays a read acknowledgement to every connection of the same
// user, the sender included. Nothing is stored.
func (g *Gateway) MarkRead(conn *Connection, notificationID int64) Ack {
	if conn.State() != StateAuthenticated {
		return notAuthenticated
	}
	frame, err := EncodeFrame(EventMarkedRead, nil, map[string]int64{"notificationId": notificationID})
	if err != nil {
		return Ack{Success: false, Message: err.Error()}
	}
	g.Broadcast([]string{UserRoom(conn.UserID)}, frame)
	return Ack{Success: true}
}

// Notify wraps payload in a notification frame and broadcasts it to rooms.
// payload is relayed verbatim and must be valid JSON.
func (g *Gateway) Notify(rooms []string, payload json.RawMessage) (int, error) {
	frame, err := EncodeFrame(EventNotify, nil, payload)
	if err != nil {
		return 0, err
	}
	return g.Broadcast(rooms, frame), nil
}

// Broadcast sends frame once to every connection that is a member of at least
// one of rooms at the time of the call. It returns how many connections
// accepted the frame. Unknown or empty rooms are skipped.
func (g *Gateway) Broadcast(rooms []string, frame []byte) int {
	g.mu.Lock()
	seen := make(map[string]struct{})
	var targets []*Connection
	for _, room := range rooms {
		for connID := range g.router.rooms[room] {
			if _, dup := seen[connID]; dup {
				continue
			}
			seen[connID] = struct{}{}
			if conn, ok := g.conns[connID]; ok {
				targets = append(targets, conn)
			}
		}
	}
	g.mu.Unlock()

	delivered := 0
	for _, conn := range targets {
		if conn.client.Send(frame) {
			delivered++
			continue
		}
		g.log.Warn("frame dropped", zap.String("conn", conn.ID), zap.Int64("user", conn.UserID))
	}
	g.metrics.Fanout(len(targets), delivered)
	return delivered
}

// Stats returns the registry snapshot.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		TotalUsers:   g.registry.Users(),
		TotalSockets: g.registry.Connections(),
		Users:        g.registry.Snapshot(),
	}
}

// ActiveConnectionCount returns how many connections userID has open.
func (g *Gateway) ActiveConnectionCount(userID int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.registry.ActiveConnectionCount(userID)
}

// MembersOf returns the connection IDs currently in room.
func (g *Gateway) MembersOf(room string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.router.MembersOf(room)
}

// Shutdown disconnects every open connection. Connect fails with
// ErrGatewayClosed from then on.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	g.closing = true
	conns := make([]*Connection, 0, len(g.conns))
	for _, c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		g.Disconnect(c)
	}
	g.log.Info("gateway stopped", zap.Int("closed", len(conns)))
}

func (g *Gateway) updatePopulationLocked() {
	g.metrics.SetPopulation(g.registry.Connections(), g.registry.Users(), g.router.Rooms())
}
