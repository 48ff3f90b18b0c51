// Package services – EnqueueService
//
// This file implements the EnqueueService, which turns application-level
// "send this to this phone" intents into durable queue rows. Enqueueing is
// idempotent: resubmitting the same idempotency key converges onto the row it
// created first, so client retries and duplicate admin clicks are safe.
// Enqueue never blocks on delivery; a best-effort dispatch trigger runs on a
// detached goroutine and its failure can never affect the enqueue result.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/repo"
)

// EnqueueResult carries the identifiers a caller needs to track the intent.
type EnqueueResult struct {
	QueueItemID       string
	InternalMessageID string
	// Deduplicated is true when an existing row with the same idempotency
	// key was returned instead of a new one.
	Deduplicated bool
}

// EnqueueService creates queue rows from delivery intents.
type EnqueueService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// Worker, when set, receives a best-effort immediate dispatch trigger
	// after each successful enqueue so interactive sends feel instant.
	Worker *DispatchWorker

	// TriggerTimeout bounds the detached immediate-dispatch attempt.
	TriggerTimeout time.Duration

	// TriggerLimit caps how many rows the immediate trigger may process.
	TriggerLimit int
}

// NewEnqueueService constructs an EnqueueService with sane trigger defaults.
func NewEnqueueService(db *gorm.DB, worker *DispatchWorker) *EnqueueService {
	return &EnqueueService{
		DB:             db,
		Worker:         worker,
		TriggerTimeout: 30 * time.Second,
		TriggerLimit:   5,
	}
}

// Enqueue validates and stores one delivery intent. When idempotencyKey is
// non-empty and already known, the original row's identifiers are returned
// unchanged: no new row, no payload overwrite.
func (s *EnqueueService) Enqueue(ctx context.Context, phone, payload, idempotencyKey string) (*EnqueueResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, ErrEmptyPhone
	}
	if !digitsOnly(phone) {
		return nil, ErrInvalidPhone
	}
	if strings.TrimSpace(payload) == "" {
		return nil, ErrEmptyPayload
	}

	var keyPtr *string
	if k := strings.TrimSpace(idempotencyKey); k != "" {
		keyPtr = &k

		if existing, err := repo.GetByIdempotencyKey(ctx, s.DB, k); err == nil {
			enqueued.WithLabelValues("deduplicated").Inc()
			return &EnqueueResult{
				QueueItemID:       existing.ID,
				InternalMessageID: existing.InternalMessageID,
				Deduplicated:      true,
			}, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	item, err := repo.CreateQueueItem(ctx, s.DB, phone, payload, keyPtr)
	if err != nil {
		// A concurrent enqueue with the same key can win the insert race;
		// the unique constraint converges both callers onto one row.
		if keyPtr != nil && isUniqueViolation(err) {
			existing, lookupErr := repo.GetByIdempotencyKey(ctx, s.DB, *keyPtr)
			if lookupErr != nil {
				return nil, err
			}
			enqueued.WithLabelValues("deduplicated").Inc()
			return &EnqueueResult{
				QueueItemID:       existing.ID,
				InternalMessageID: existing.InternalMessageID,
				Deduplicated:      true,
			}, nil
		}
		return nil, err
	}

	if logErr := repo.AppendLog(ctx, s.DB, item.InternalMessageID, "info", "enqueued", item.Preview()); logErr != nil {
		log.Warn().Err(logErr).Str("queue_item_id", item.ID).Msg("enqueue log write failed")
	}
	enqueued.WithLabelValues("created").Inc()

	s.triggerDispatch()

	return &EnqueueResult{
		QueueItemID:       item.ID,
		InternalMessageID: item.InternalMessageID,
	}, nil
}

// triggerDispatch kicks the worker on a detached goroutine. Strictly
// best-effort: errors are logged, never surfaced to the enqueue caller.
func (s *EnqueueService) triggerDispatch() {
	if s.Worker == nil {
		return
	}
	timeout := s.TriggerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := s.TriggerLimit
	if limit <= 0 {
		limit = 5
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := s.Worker.ProcessOnce(ctx, limit); err != nil {
			log.Warn().Err(err).Msg("post-enqueue dispatch trigger failed")
		}
	}()
}

// digitsOnly reports whether s consists solely of ASCII digits.
func digitsOnly(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isUniqueViolation detects a unique-constraint insert failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}
