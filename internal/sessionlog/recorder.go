package sessionlog

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/work-manager-team/Work-Management-sub001/internal/models"
)

type event struct {
	open       *models.Session
	connID     string
	at         time.Time
	reason     models.CloseReason
	messagesIn int
}

// Recorder writes session rows from a single background goroutine so socket
// handlers never wait on the database. Events that do not fit in the buffer,
// or arrive after Close, are dropped and logged. A nil *Recorder records
// nothing.
type Recorder struct {
	store  *Store
	log    *zap.Logger
	events chan event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewRecorder starts the writer goroutine.
func NewRecorder(store *Store, log *zap.Logger, buffer int) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		store:  store,
		log:    log,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Opened queues the insert for a new session.
func (r *Recorder) Opened(sess models.Session) {
	if r == nil {
		return
	}
	r.enqueue(event{open: &sess})
}

// Closed queues the end of a session.
func (r *Recorder) Closed(connID string, at time.Time, reason models.CloseReason, messagesIn int) {
	if r == nil {
		return
	}
	r.enqueue(event{connID: connID, at: at, reason: reason, messagesIn: messagesIn})
}

func (r *Recorder) enqueue(ev event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		connID := ev.connID
		if ev.open != nil {
			connID = ev.open.ConnectionID
		}
		r.log.Warn("session log closed, event dropped", zap.String("conn", connID))
		return
	}
	select {
	case r.events <- ev:
	default:
		r.log.Warn("session log buffer full, event dropped")
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		if ev.open != nil {
			err = r.store.Opened(ctx, ev.open)
		} else {
			err = r.store.Closed(ctx, ev.connID, ev.at, ev.reason, ev.messagesIn)
		}
		cancel()
		if err != nil {
			r.log.Error("session log write failed", zap.Error(err))
		}
	}
}

// Close stops accepting events and waits until the queue is written or ctx
// expires.
func (r *Recorder) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
