package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caseflow/go-messaging-backend/internal/domain"
	"github.com/caseflow/go-messaging-backend/internal/repo"
)

func newAdminFixture(t *testing.T) (*QueueAdminService, *EnqueueService, *fakeTransport) {
	t.Helper()
	db := newServiceDB(t)
	ft := &fakeTransport{}
	w := newTestWorker(db, ft)
	return NewQueueAdminService(db, w), NewEnqueueService(db, nil), ft
}

func TestBulk_UnknownActionRejected(t *testing.T) {
	admin, _, _ := newAdminFixture(t)
	if _, err := admin.Bulk(context.Background(), BulkAction("explode"), nil); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestBulk_TargetedActionsRequireIDs(t *testing.T) {
	admin, _, _ := newAdminFixture(t)
	ctx := context.Background()
	for _, action := range []BulkAction{ActionRetry, ActionReprocess, ActionCancel} {
		if _, err := admin.Bulk(ctx, action, nil); !errors.Is(err, ErrNoTargets) {
			t.Fatalf("%s without ids: %v", action, err)
		}
	}
}

func TestBulk_ProcessRunsWorker(t *testing.T) {
	admin, enq, ft := newAdminFixture(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := enq.Enqueue(ctx, "5511999990000", "payload", ""); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	out, err := admin.Bulk(ctx, ActionProcess, nil)
	if err != nil {
		t.Fatalf("Bulk(process): %v", err)
	}
	if out.Affected != 2 || out.Batch == nil || out.Batch.Succeeded != 2 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if ft.callCount() != 2 {
		t.Fatalf("transport calls = %d, want 2", ft.callCount())
	}
}

func TestBulk_CancelOnlyTouchesCancelableRows(t *testing.T) {
	admin, enq, _ := newAdminFixture(t)
	ctx := context.Background()

	a, _ := enq.Enqueue(ctx, "5511", "p", "")
	b, _ := enq.Enqueue(ctx, "5511", "p", "")
	admin.DB.Model(&domain.QueueItem{}).Where("id = ?", b.QueueItemID).
		Update("status", domain.StatusSent)

	out, err := admin.Bulk(ctx, ActionCancel, []string{a.QueueItemID, b.QueueItemID})
	if err != nil {
		t.Fatalf("Bulk(cancel): %v", err)
	}
	if out.Affected != 1 {
		t.Fatalf("affected = %d, want 1", out.Affected)
	}

	item, _ := repo.GetQueueItem(ctx, admin.DB, a.QueueItemID)
	if item.Status != domain.StatusCanceled {
		t.Fatalf("status = %q, want canceled", item.Status)
	}
}

func TestBulk_ReprocessResetsDeadRow(t *testing.T) {
	admin, enq, _ := newAdminFixture(t)
	ctx := context.Background()

	res, _ := enq.Enqueue(ctx, "5511", "p", "")
	now := time.Now().UTC()
	admin.DB.Model(&domain.QueueItem{}).Where("id = ?", res.QueueItemID).Updates(map[string]any{
		"status": domain.StatusDead, "retries": 5, "error": "gave up", "scheduled_at": now,
	})

	out, err := admin.Bulk(ctx, ActionReprocess, []string{res.QueueItemID})
	if err != nil || out.Affected != 1 {
		t.Fatalf("Bulk(reprocess): affected=%d err=%v", out.Affected, err)
	}

	item, _ := repo.GetQueueItem(ctx, admin.DB, res.QueueItemID)
	if item.Status != domain.StatusPending || item.Retries != 0 || item.Error != "" || item.ScheduledAt != nil {
		t.Fatalf("row not fully reset: %+v", item)
	}

	logs, _ := repo.ListLogs(ctx, admin.DB, res.InternalMessageID, 0)
	found := false
	for _, l := range logs {
		if l.Event == "reprocessed" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a reprocessed audit log entry")
	}
}

func TestBulk_ClearDeadPurges(t *testing.T) {
	admin, enq, _ := newAdminFixture(t)
	ctx := context.Background()

	dead, _ := enq.Enqueue(ctx, "5511", "p", "")
	admin.DB.Model(&domain.QueueItem{}).Where("id = ?", dead.QueueItemID).
		Update("status", domain.StatusDead)
	enq.Enqueue(ctx, "5511", "p", "")

	out, err := admin.Bulk(ctx, ActionClearDead, nil)
	if err != nil || out.Affected != 1 {
		t.Fatalf("Bulk(clear_dead): affected=%d err=%v", out.Affected, err)
	}
	if _, err := repo.GetQueueItem(ctx, admin.DB, dead.QueueItemID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("dead row still present: %v", err)
	}
}

func TestList_FilterAndCounts(t *testing.T) {
	admin, enq, _ := newAdminFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		enq.Enqueue(ctx, "5511", "p", "")
	}
	sent, _ := enq.Enqueue(ctx, "5511", "p", "")
	admin.DB.Model(&domain.QueueItem{}).Where("id = ?", sent.QueueItemID).
		Update("status", domain.StatusSent)

	status := domain.StatusPending
	listing, err := admin.List(ctx, &status, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if listing.Total != 3 || len(listing.Items) != 3 {
		t.Fatalf("total=%d len=%d, want 3/3", listing.Total, len(listing.Items))
	}
	if listing.Counts[domain.StatusPending] != 3 || listing.Counts[domain.StatusSent] != 1 {
		t.Fatalf("unexpected counts: %+v", listing.Counts)
	}
}

func TestDetail_TimelineAndLogs(t *testing.T) {
	admin, enq, _ := newAdminFixture(t)
	ctx := context.Background()

	res, _ := enq.Enqueue(ctx, "5511999990000", `{"type":"text","text":"hello"}`, "")
	if _, err := admin.Worker.ProcessOnce(ctx, 1); err != nil {
		t.Fatalf("process: %v", err)
	}

	detail, err := admin.Detail(ctx, res.QueueItemID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.Preview != "hello" {
		t.Fatalf("preview = %q", detail.Preview)
	}

	stages := make([]string, len(detail.Timeline))
	for i, s := range detail.Timeline {
		stages[i] = s.Stage
	}
	want := []string{"created", "attempted", "sent"}
	if len(stages) != len(want) {
		t.Fatalf("timeline %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("timeline %v, want %v", stages, want)
		}
	}
	if len(detail.Logs) == 0 {
		t.Fatal("expected correlated log entries")
	}
}

func TestDetail_NotFound(t *testing.T) {
	admin, _, _ := newAdminFixture(t)
	if _, err := admin.Detail(context.Background(), "missing"); !errors.Is(err, ErrQueueItemNotFound) {
		t.Fatalf("expected ErrQueueItemNotFound, got %v", err)
	}
}
