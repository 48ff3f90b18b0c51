// Package repo implements the data persistence layer for the message queue,
// backed by GORM. This file provides repository functions for the QueueItem
// model, including the atomic claim and the status transitions that make up
// the queue state machine.
//
// Every transition is a single conditional UPDATE keyed on the row's current
// status. A transition whose condition no longer holds affects zero rows and
// is reported through the returned boolean (or affected count) rather than an
// error, so concurrent workers can race safely: the loser of a claim race
// simply moves on.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/domain"
)

// ErrNotFound indicates the requested queue row does not exist.
var ErrNotFound = errors.New("not found")

// CreateQueueItem inserts a new pending row with a fresh ID and internal
// message ID. idempotencyKey may be nil.
func CreateQueueItem(ctx context.Context, db *gorm.DB, phone, payload string, idempotencyKey *string) (*domain.QueueItem, error) {
	now := time.Now().UTC()
	item := &domain.QueueItem{
		ID:                uuid.NewString(),
		Phone:             phone,
		Payload:           payload,
		Status:            domain.StatusPending,
		InternalMessageID: uuid.NewString(),
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := db.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}

// GetQueueItem fetches a queue row by ID.
func GetQueueItem(ctx context.Context, db *gorm.DB, id string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetByIdempotencyKey returns the row holding the given idempotency key, or
// ErrNotFound when no such row exists.
func GetByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := db.WithContext(ctx).Where("idempotency_key = ?", key).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// GetByProviderMessageID looks a row up by the ID the transport assigned on a
// successful send. Used to correlate inbound status callbacks.
func GetByProviderMessageID(ctx context.Context, db *gorm.DB, providerID string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	if err := db.WithContext(ctx).Where("provider_message_id = ?", providerID).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// ListQueue returns a page of rows, newest first, optionally filtered by
// status. A nil status means all statuses.
func ListQueue(ctx context.Context, db *gorm.DB, status *domain.QueueStatus, offset, limit int) ([]domain.QueueItem, int64, error) {
	q := db.WithContext(ctx).Model(&domain.QueueItem{})
	if status != nil {
		q = q.Where("status = ?", *status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var out []domain.QueueItem
	err := q.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

// ClaimEligible atomically claims up to limit pending rows whose scheduled_at
// is null or in the past, oldest first, moving each to sending.
//
// The claim itself is a single conditional UPDATE keyed on status='pending';
// when two workers race for the same row, exactly one UPDATE affects a row
// and the other worker skips it. The surrounding SELECT is only a candidate
// scan and carries no locking semantics.
func ClaimEligible(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}

	var candidates []domain.QueueItem
	err := db.WithContext(ctx).
		Where("status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)", domain.StatusPending, now).
		Order("created_at ASC, id ASC").
		Limit(limit * 2). // headroom for lost races
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.QueueItem, 0, limit)
	for i := range candidates {
		item := candidates[i]
		res := db.WithContext(ctx).Model(&domain.QueueItem{}).
			Where("id = ? AND status = ?", item.ID, domain.StatusPending).
			Updates(map[string]any{
				"status":          domain.StatusSending,
				"last_attempt_at": now,
				"updated_at":      now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected == 0 {
			continue // another worker won this row
		}
		item.Status = domain.StatusSending
		item.LastAttemptAt = &now
		claimed = append(claimed, item)
		if len(claimed) == limit {
			break
		}
	}
	return claimed, nil
}

// MarkSent completes a claimed row: sending → sent. Records the provider
// message ID, sets sent_at, and clears any previous error.
func MarkSent(ctx context.Context, db *gorm.DB, id, providerMessageID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status = ?", id, domain.StatusSending).
		Updates(map[string]any{
			"status":              domain.StatusSent,
			"provider_message_id": providerMessageID,
			"sent_at":             now,
			"error":               "",
			"updated_at":          now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkRetrying records a failed attempt on a claimed row: sending → retrying.
// Increments the retry count, stores the failure detail, and schedules the
// next attempt.
func MarkRetrying(ctx context.Context, db *gorm.DB, id, errMsg string, nextAttemptAt, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status = ?", id, domain.StatusSending).
		Updates(map[string]any{
			"status":       domain.StatusRetrying,
			"retries":      gorm.Expr("retries + 1"),
			"error":        errMsg,
			"scheduled_at": nextAttemptAt,
			"updated_at":   now,
		})
	return res.RowsAffected > 0, res.Error
}

// Requeue loops a transiently-failed row back into the queue:
// retrying → pending. The scheduled_at set by MarkRetrying gates eligibility.
func Requeue(ctx context.Context, db *gorm.DB, id string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status = ?", id, domain.StatusRetrying).
		Updates(map[string]any{
			"status":     domain.StatusPending,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// MarkDead terminates a row whose retry budget is exhausted:
// retrying → dead. Dead rows stay visible until explicitly purged.
func MarkDead(ctx context.Context, db *gorm.DB, id, errMsg string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ? AND status = ?", id, domain.StatusRetrying).
		Updates(map[string]any{
			"status":     domain.StatusDead,
			"error":      errMsg,
			"updated_at": now,
		})
	return res.RowsAffected > 0, res.Error
}

// Cancel sets targeted rows to canceled. Only pending and retrying rows are
// cancelable; a row mid-send completes its in-flight attempt.
func Cancel(ctx context.Context, db *gorm.DB, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id IN ? AND status IN ?", ids, []domain.QueueStatus{domain.StatusPending, domain.StatusRetrying}).
		Updates(map[string]any{
			"status":     domain.StatusCanceled,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// Reprocess deliberately resets targeted rows to pending, clearing the error,
// schedule, and retry count. Sent and canceled rows are never reset.
func Reprocess(ctx context.Context, db *gorm.DB, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id IN ? AND status NOT IN ?", ids, []domain.QueueStatus{domain.StatusSent, domain.StatusCanceled}).
		Updates(map[string]any{
			"status":       domain.StatusPending,
			"retries":      0,
			"error":        "",
			"scheduled_at": nil,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

// PurgeDead deletes all dead rows and returns the number removed. This is the
// only code path that deletes queue rows.
func PurgeDead(ctx context.Context, db *gorm.DB) (int64, error) {
	res := db.WithContext(ctx).
		Where("status = ?", domain.StatusDead).
		Delete(&domain.QueueItem{})
	return res.RowsAffected, res.Error
}

// RequeueStaleSending resets rows stuck in sending since before staleBefore
// back to pending. Covers worker crashes between claim and outcome.
func RequeueStaleSending(ctx context.Context, db *gorm.DB, staleBefore, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("status = ? AND updated_at < ?", domain.StatusSending, staleBefore).
		Updates(map[string]any{
			"status":       domain.StatusPending,
			"scheduled_at": nil,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}

// SetCallbackError stores a failure detail reported by the transport via an
// inbound status callback. The row's status is left untouched: callbacks
// never re-enter the worker state machine.
func SetCallbackError(ctx context.Context, db *gorm.DB, id, errMsg string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.QueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"error":      errMsg,
			"updated_at": now,
		}).Error
}
