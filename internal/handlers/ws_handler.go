package handlers

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/work-manager-team/Work-Management-sub001/internal/auth"
	"github.com/work-manager-team/Work-Management-sub001/internal/config"
	"github.com/work-manager-team/Work-Management-sub001/internal/middleware"
	"github.com/work-manager-team/Work-Management-sub001/internal/models"
	"github.com/work-manager-team/Work-Management-sub001/internal/realtime"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// CloseUnauthorized is sent when the handshake token fails verification.
	CloseUnauthorized = 4401
)

// SessionRecorder receives connection lifecycle events for the audit log.
type SessionRecorder interface {
	Opened(sess models.Session)
	Closed(connID string, at time.Time, reason models.CloseReason, messagesIn int)
}

// wsClient implements realtime.Client on top of a websocket connection. Send
// only enqueues; writePump owns all data writes.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, buffer int, log *zap.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		send: make(chan []byte, buffer),
		log:  log,
		done: make(chan struct{}),
	}
}

func (c *wsClient) Send(message []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close asks writePump to flush what is queued, send a close frame and
// release the socket.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(message) {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
				// reader loop will notice the dead socket
				return
			}
		case <-c.done:
			for {
				select {
				case message := <-c.send:
					if !c.write(message) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

func (c *wsClient) write(message []byte) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.log.Debug("websocket write failed", zap.Error(err))
		return false
	}
	return true
}

type noSessions struct{}

func (noSessions) Opened(models.Session) {}

func (noSessions) Closed(string, time.Time, models.CloseReason, int) {}

// WSOptions tune the socket transport.
type WSOptions struct {
	Origins        middleware.OriginPolicy
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      config.RateLimitConfig
	// Active, when set, counts sessions still running so shutdown can wait
	// for their close rows before the session log stops.
	Active *sync.WaitGroup
}

// WebSocketHandler upgrades connections and runs one gateway session each.
type WebSocketHandler struct {
	gateway  *realtime.Gateway
	sessions SessionRecorder
	log      *zap.Logger
	opts     WSOptions
	upgrader websocket.Upgrader
}

func NewWebSocketHandler(gateway *realtime.Gateway, sessions SessionRecorder, log *zap.Logger, opts WSOptions) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if sessions == nil {
		sessions = noSessions{}
	}
	return &WebSocketHandler{
		gateway:  gateway,
		sessions: sessions,
		log:      log,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.Origins.CheckOrigin,
		},
	}
}

// Handle serves GET on the WebSocket path. The token is checked after the
// upgrade; a rejected client receives close code 4401 and no event.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader has already written the HTTP error
		h.log.Warn("websocket upgrade failed", zap.String("remote", c.ClientIP()), zap.Error(err))
		return
	}

	client := newWSClient(ws, h.opts.SendBuffer, h.log)
	conn, err := h.gateway.Connect(token, client, c.ClientIP())
	if err != nil {
		closeMsg := websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized")
		if errors.Is(err, realtime.ErrGatewayClosed) {
			closeMsg = websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down")
		}
		_ = ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	if h.opts.Active != nil {
		h.opts.Active.Add(1)
		defer h.opts.Active.Done()
	}

	h.sessions.Opened(models.Session{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		RemoteAddr:   conn.RemoteAddr,
		UserAgent:    c.Request.UserAgent(),
		ConnectedAt:  conn.ConnectedAt,
	})

	go client.writePump()

	messagesIn, reason := h.readLoop(ws, conn)

	h.gateway.Disconnect(conn)
	h.sessions.Closed(conn.ID, time.Now(), reason, messagesIn)
}

// readLoop handles client messages in receipt order until the socket fails.
func (h *WebSocketHandler) readLoop(ws *websocket.Conn, conn *realtime.Connection) (int, models.CloseReason) {
	ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.opts.RateLimit.PerSecond), h.opts.RateLimit.Burst)
	messages := 0

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return messages, h.closeReason(conn, err)
		}
		messages++

		var ack realtime.Ack
		msg, ackID, err := realtime.ParseClientMessage(raw)
		switch {
		case !limiter.Allow():
			ack = realtime.Ack{Success: false, Message: "rate limited"}
		case err != nil:
			ack = realtime.Ack{Success: false, Message: err.Error()}
		default:
			ack = h.gateway.Handle(conn, msg)
		}

		frame, err := realtime.EncodeFrame(realtime.EventAck, ackID, ack)
		if err != nil {
			h.log.Error("encode ack", zap.Error(err))
			continue
		}
		if !conn.Send(frame) {
			h.log.Warn("ack dropped", zap.String("conn", conn.ID))
		}
	}
}

func (h *WebSocketHandler) closeReason(conn *realtime.Connection, err error) models.CloseReason {
	if conn.State() == realtime.StateClosed {
		return models.CloseShutdown
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return models.CloseClient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.CloseTimeout
	}
	h.log.Debug("websocket read failed", zap.String("conn", conn.ID), zap.Error(err))
	return models.CloseError
}

var _ realtime.Client = (*wsClient)(nil)
