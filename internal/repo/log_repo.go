// Package repo implements the data persistence layer for the message queue,
// backed by GORM. This file provides the append-only message log used to
// build per-message delivery timelines.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/domain"
)

// AppendLog inserts one event row correlated by internal message ID.
// Log writes are best-effort from the caller's point of view: the queue state
// machine never depends on them.
func AppendLog(ctx context.Context, db *gorm.DB, internalMessageID, level, event, detail string) error {
	entry := &domain.MessageLog{
		ID:                uuid.NewString(),
		InternalMessageID: internalMessageID,
		Level:             level,
		Event:             event,
		Detail:            detail,
		CreatedAt:         time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(entry).Error
}

// ListLogs returns log entries for one internal message ID ordered
// deterministically (CreatedAt ASC, ID ASC).
func ListLogs(ctx context.Context, db *gorm.DB, internalMessageID string, limit int) ([]domain.MessageLog, error) {
	var out []domain.MessageLog
	q := db.WithContext(ctx).
		Where("internal_message_id = ?", internalMessageID).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
