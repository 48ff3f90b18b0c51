// Package services – QueueAdminService
//
// This file implements the operator control surface over the queue: listing
// with aggregate counts, single-item detail with a derived delivery timeline,
// and the bulk recovery actions. Actions form a closed set dispatched through
// a lookup table, so adding or removing one is a single-table change instead
// of scattered string comparisons.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/caseflow/go-messaging-backend/internal/domain"
	"github.com/caseflow/go-messaging-backend/internal/repo"
)

// BulkAction is one of the operator recovery actions.
type BulkAction string

const (
	// ActionProcess triggers a dispatch batch immediately.
	ActionProcess BulkAction = "process"
	// ActionRetry resets targeted rows to pending, clearing error/schedule.
	ActionRetry BulkAction = "retry"
	// ActionReprocess is a deliberate full reset of targeted rows, retry
	// count included. Sent and canceled rows are never reset.
	ActionReprocess BulkAction = "reprocess"
	// ActionCancel sets targeted pending/retrying rows to canceled.
	ActionCancel BulkAction = "cancel"
	// ActionClearDead deletes all dead rows.
	ActionClearDead BulkAction = "clear_dead"
)

// bulkHandler executes one action against the given target ids.
type bulkHandler func(s *QueueAdminService, ctx context.Context, ids []string) (BulkOutcome, error)

// bulkHandlers is the closed dispatch table for operator actions.
var bulkHandlers = map[BulkAction]bulkHandler{
	ActionProcess:   (*QueueAdminService).bulkProcess,
	ActionRetry:     (*QueueAdminService).bulkReset,
	ActionReprocess: (*QueueAdminService).bulkReset,
	ActionCancel:    (*QueueAdminService).bulkCancel,
	ActionClearDead: (*QueueAdminService).bulkClearDead,
}

// BulkOutcome reports what a bulk action did.
type BulkOutcome struct {
	Action   BulkAction   `json:"action"`
	Affected int64        `json:"affected"`
	Batch    *BatchResult `json:"batch,omitempty"` // set for process
}

// QueueListing is one page of rows plus per-status aggregate counts.
type QueueListing struct {
	Items  []QueueItemView              `json:"items"`
	Total  int64                        `json:"total"`
	Counts map[domain.QueueStatus]int64 `json:"counts"`
}

// QueueItemView is a row projection for operator screens: full row fields
// plus the derived payload preview.
type QueueItemView struct {
	domain.QueueItem
	Preview string `json:"preview"`
}

// TimelineStep is one stage in a message's derived delivery timeline.
type TimelineStep struct {
	Stage string    `json:"stage"` // created | attempted | sent | dead | canceled
	At    time.Time `json:"at"`
}

// QueueItemDetail is the single-item operator view.
type QueueItemDetail struct {
	QueueItemView
	Timeline []TimelineStep      `json:"timeline"`
	Logs     []domain.MessageLog `json:"logs"`
}

// QueueAdminService exposes operator recovery operations.
type QueueAdminService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Worker executes the process action.
	Worker *DispatchWorker
	// ProcessLimit caps rows handled by one operator-triggered batch.
	ProcessLimit int
}

// NewQueueAdminService constructs a QueueAdminService.
func NewQueueAdminService(db *gorm.DB, worker *DispatchWorker) *QueueAdminService {
	return &QueueAdminService{DB: db, Worker: worker, ProcessLimit: 50}
}

// List returns a page of rows (optionally filtered by status) together with
// aggregate counts across all statuses.
func (s *QueueAdminService) List(ctx context.Context, status *domain.QueueStatus, offset, limit int) (*QueueListing, error) {
	items, total, err := repo.ListQueue(ctx, s.DB, status, offset, limit)
	if err != nil {
		return nil, err
	}
	counts, err := repo.CountsByStatus(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	observeQueueDepth(counts)

	views := make([]QueueItemView, len(items))
	for i := range items {
		views[i] = QueueItemView{QueueItem: items[i], Preview: items[i].Preview()}
	}
	return &QueueListing{Items: views, Total: total, Counts: counts}, nil
}

// Detail returns one row with its derived timeline and correlated log
// entries. Returns ErrQueueItemNotFound for unknown ids.
func (s *QueueAdminService) Detail(ctx context.Context, id string) (*QueueItemDetail, error) {
	item, err := repo.GetQueueItem(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrQueueItemNotFound
		}
		return nil, err
	}

	logs, err := repo.ListLogs(ctx, s.DB, item.InternalMessageID, 200)
	if err != nil {
		return nil, err
	}

	return &QueueItemDetail{
		QueueItemView: QueueItemView{QueueItem: *item, Preview: item.Preview()},
		Timeline:      buildTimeline(item),
		Logs:          logs,
	}, nil
}

// Bulk dispatches one operator action through the lookup table.
func (s *QueueAdminService) Bulk(ctx context.Context, action BulkAction, ids []string) (BulkOutcome, error) {
	handler, known := bulkHandlers[action]
	if !known {
		return BulkOutcome{}, ErrUnknownAction
	}
	outcome, err := handler(s, ctx, ids)
	outcome.Action = action
	return outcome, err
}

func (s *QueueAdminService) bulkProcess(ctx context.Context, _ []string) (BulkOutcome, error) {
	limit := s.ProcessLimit
	if limit <= 0 {
		limit = 50
	}
	res, err := s.Worker.ProcessOnce(ctx, limit)
	if err != nil {
		return BulkOutcome{}, err
	}
	return BulkOutcome{Affected: int64(res.Processed), Batch: &res}, nil
}

func (s *QueueAdminService) bulkReset(ctx context.Context, ids []string) (BulkOutcome, error) {
	if len(ids) == 0 {
		return BulkOutcome{}, ErrNoTargets
	}
	now := time.Now().UTC()
	n, err := repo.Reprocess(ctx, s.DB, ids, now)
	if err != nil {
		return BulkOutcome{}, err
	}
	s.logBulk(ctx, ids, "reprocessed", "reset to pending by operator")
	return BulkOutcome{Affected: n}, nil
}

func (s *QueueAdminService) bulkCancel(ctx context.Context, ids []string) (BulkOutcome, error) {
	if len(ids) == 0 {
		return BulkOutcome{}, ErrNoTargets
	}
	now := time.Now().UTC()
	n, err := repo.Cancel(ctx, s.DB, ids, now)
	if err != nil {
		return BulkOutcome{}, err
	}
	s.logBulk(ctx, ids, "canceled", "canceled by operator")
	return BulkOutcome{Affected: n}, nil
}

func (s *QueueAdminService) bulkClearDead(ctx context.Context, _ []string) (BulkOutcome, error) {
	n, err := repo.PurgeDead(ctx, s.DB)
	if err != nil {
		return BulkOutcome{}, err
	}
	return BulkOutcome{Affected: n}, nil
}

// logBulk appends an audit entry for each targeted row that still exists.
func (s *QueueAdminService) logBulk(ctx context.Context, ids []string, event, detail string) {
	for _, id := range ids {
		item, err := repo.GetQueueItem(ctx, s.DB, id)
		if err != nil {
			continue
		}
		_ = repo.AppendLog(ctx, s.DB, item.InternalMessageID, "info", event, detail)
	}
}

// buildTimeline derives the delivery stages from the row's timestamps.
func buildTimeline(item *domain.QueueItem) []TimelineStep {
	steps := []TimelineStep{{Stage: "created", At: item.CreatedAt}}
	if item.LastAttemptAt != nil {
		steps = append(steps, TimelineStep{Stage: "attempted", At: *item.LastAttemptAt})
	}
	switch item.Status {
	case domain.StatusSent:
		if item.SentAt != nil {
			steps = append(steps, TimelineStep{Stage: "sent", At: *item.SentAt})
		}
	case domain.StatusDead:
		steps = append(steps, TimelineStep{Stage: "dead", At: item.UpdatedAt})
	case domain.StatusCanceled:
		steps = append(steps, TimelineStep{Stage: "canceled", At: item.UpdatedAt})
	}
	return steps
}
