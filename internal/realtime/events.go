package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Server-to-client events.
const (
	EventConnected  = "connected"
	EventNotify     = "notification"
	EventMarkedRead = "notification:marked_read"
	EventAck        = "ack"
)

// Client-to-server events.
const (
	EventSubscribeProject   = "subscribe:project"
	EventUnsubscribeProject = "unsubscribe:project"
	EventNotificationRead   = "notification:read"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnknownEvent     = errors.New("unknown event")
	ErrInvalidPayload   = errors.New("invalid payload")
)

// Envelope is the JSON frame exchanged in both directions. ID is optional on
// client messages and echoed back on the matching ack.
type Envelope struct {
	Event string          `json:"event"`
	ID    *uint64         `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Ack answers a client message.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ID is a numeric identifier that also accepts its decimal string form,
// since JavaScript clients send both.
type ID int64

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		return nil
	}
	if len(b) > 1 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return fmt.Errorf("id %s is not an integer", b)
	}
	*id = ID(v)
	return nil
}

// ClientMessage is one of SubscribeProject, UnsubscribeProject or MarkRead.
// The unexported method keeps the set closed to this package.
type ClientMessage interface {
	Event() string
	clientMessage()
}

type SubscribeProject struct {
	ProjectID ID `json:"projectId"`
}

type UnsubscribeProject struct {
	ProjectID ID `json:"projectId"`
}

type MarkRead struct {
	NotificationID ID `json:"notificationId"`
}

func (SubscribeProject) Event() string   { return EventSubscribeProject }
func (UnsubscribeProject) Event() string { return EventUnsubscribeProject }
func (MarkRead) Event() string           { return EventNotificationRead }

func (SubscribeProject) clientMessage()   {}
func (UnsubscribeProject) clientMessage() {}
func (MarkRead) clientMessage()           {}

// ParseClientMessage decodes a client frame. The returned ack ID is set
// whenever the envelope itself decoded, so errors can still be acknowledged.
func ParseClientMessage(raw []byte) (ClientMessage, *uint64, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch env.Event {
	case EventSubscribeProject:
		var m SubscribeProject
		if err := decodeData(env.Data, &m); err != nil {
			return nil, env.ID, err
		}
		if m.ProjectID <= 0 {
			return nil, env.ID, fmt.Errorf("%w: projectId is required", ErrInvalidPayload)
		}
		return m, env.ID, nil
	case EventUnsubscribeProject:
		var m UnsubscribeProject
		if err := decodeData(env.Data, &m); err != nil {
			return nil, env.ID, err
		}
		if m.ProjectID <= 0 {
			return nil, env.ID, fmt.Errorf("%w: projectId is required", ErrInvalidPayload)
		}
		return m, env.ID, nil
	case EventNotificationRead:
		var m MarkRead
		if err := decodeData(env.Data, &m); err != nil {
			return nil, env.ID, err
		}
		if m.NotificationID <= 0 {
			return nil, env.ID, fmt.Errorf("%w: notificationId is required", ErrInvalidPayload)
		}
		return m, env.ID, nil
	default:
		return nil, env.ID, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// EncodeFrame builds a server frame. data is marshalled as-is, so a
// json.RawMessage payload passes through untouched.
func EncodeFrame(event string, id *uint64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, ID: id, Data: raw})
}
