package models

import (
	"time"
)

// CloseReason describes why a connection session ended.
type CloseReason string

const (
	CloseClient   CloseReason = "client_closed"
	CloseError    CloseReason = "transport_error"
	CloseTimeout  CloseReason = "heartbeat_timeout"
	CloseShutdown CloseReason = "server_shutdown"
)

// Session is the audit row of one authenticated WebSocket connection.
// Notifications themselves are never stored.
type Session struct {
	ID             uint        `json:"-" gorm:"primaryKey"`
	ConnectionID   string      `json:"connectionId" gorm:"column:connection_id;uniqueIndex;not null"`
	UserID         int64       `json:"userId" gorm:"column:user_id;index;not null"`
	RemoteAddr     string      `json:"remoteAddr" gorm:"column:remote_addr"`
	UserAgent      string      `json:"userAgent" gorm:"column:user_agent"`
	ConnectedAt    time.Time   `json:"connectedAt" gorm:"column:connected_at;index;not null"`
	DisconnectedAt *time.Time  `json:"disconnectedAt,omitempty" gorm:"column:disconnected_at"`
	CloseReason    CloseReason `json:"closeReason,omitempty" gorm:"column:close_reason"`
	MessagesIn     int         `json:"messagesIn" gorm:"column:messages_in;default:0"`
}

// TableName specifies the table name for Session Model
func (Session) TableName() string {
	return "connection_sessions"
}
