package realtime

import (
	"sync/atomic"
	"time"
)

// Client is the transport behind a connection. Send must not block: it either
// enqueues the frame and returns true, or drops it and returns false.
type Client interface {
	Send(message []byte) bool
	Close()
}

// State is a connection's position in its lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one live client session. UserID is fixed once the token has
// been verified; rooms is owned by the Gateway and only touched under its lock.
type Connection struct {
	ID          string
	UserID      int64
	RemoteAddr  string
	ConnectedAt time.Time

	client Client
	state  atomic.Int32
	rooms  map[string]struct{}
}

// State reports the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

// Send writes a frame straight to this connection, bypassing rooms.
func (c *Connection) Send(frame []byte) bool {
	return c.client.Send(frame)
}
