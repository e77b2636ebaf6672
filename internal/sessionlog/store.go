// Package sessionlog keeps an audit trail of WebSocket connection sessions.
package sessionlog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/work-manager-team/Work-Management-sub001/internal/models"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Store reads and writes session rows.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Opened inserts the row for a freshly authenticated connection.
func (s *Store) Opened(ctx context.Context, sess *models.Session) error {
	if err := s.db.WithContext(ctx).Create(sess).Error; err != nil {
		return fmt.Errorf("insert session %s: %w", sess.ConnectionID, err)
	}
	return nil
}

// Closed stamps the end of a session. Unknown connection IDs are ignored.
func (s *Store) Closed(ctx context.Context, connID string, at time.Time, reason models.CloseReason, messagesIn int) error {
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("connection_id = ? AND disconnected_at IS NULL", connID).
		Updates(map[string]any{
			"disconnected_at": at,
			"close_reason":    reason,
			"messages_in":     messagesIn,
		}).Error
	if err != nil {
		return fmt.Errorf("close session %s: %w", connID, err)
	}
	return nil
}

// CloseDangling closes sessions a previous process never finished, e.g.
// after a crash. It returns how many rows were touched.
func (s *Store) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("disconnected_at IS NULL").
		Updates(map[string]any{
			"disconnected_at": at,
			"close_reason":    models.CloseShutdown,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("close dangling sessions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Recent lists sessions newest first. userID 0 lists every user.
func (s *Store) Recent(ctx context.Context, userID int64, limit int) ([]models.Session, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	query := s.db.WithContext(ctx).Model(&models.Session{})
	if userID > 0 {
		query = query.Where("user_id = ?", userID)
	}

	var sessions []models.Session
	if err := query.Order("connected_at desc").Order("id desc").Limit(limit).Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}
