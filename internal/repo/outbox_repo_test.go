package repo

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/caseflow/go-messaging-backend/internal/domain"
)

func newQueueDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("outbox_repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// Claim races in tests hit the same file from multiple goroutines.
	db.Exec("PRAGMA busy_timeout=5000;")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedItem(t *testing.T, db *gorm.DB, phone string) *domain.QueueItem {
	t.Helper()
	item, err := CreateQueueItem(context.Background(), db, phone, `{"type":"text","text":"hi"}`, nil)
	if err != nil {
		t.Fatalf("CreateQueueItem: %v", err)
	}
	return item
}

func mustStatus(t *testing.T, db *gorm.DB, id string, want domain.QueueStatus) *domain.QueueItem {
	t.Helper()
	got, err := GetQueueItem(context.Background(), db, id)
	if err != nil {
		t.Fatalf("GetQueueItem(%s): %v", id, err)
	}
	if got.Status != want {
		t.Fatalf("status = %q, want %q", got.Status, want)
	}
	return got
}

func TestCreateQueueItem_SetsFields(t *testing.T) {
	db := newQueueDB(t)
	item := seedItem(t, db, "5511999990001")

	if item.ID == "" || item.InternalMessageID == "" {
		t.Fatalf("missing generated IDs: %+v", item)
	}
	if item.Status != domain.StatusPending || item.Retries != 0 {
		t.Fatalf("unexpected initial state: %+v", item)
	}
	if item.ScheduledAt != nil || item.SentAt != nil {
		t.Fatalf("timestamps should start nil: %+v", item)
	}
}

func TestCreateQueueItem_IdempotencyKeyUnique(t *testing.T) {
	db := newQueueDB(t)
	key := "k1"
	if _, err := CreateQueueItem(context.Background(), db, "551100", "a", &key); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := CreateQueueItem(context.Background(), db, "551100", "b", &key); err == nil {
		t.Fatal("expected unique-constraint error on duplicate idempotency key")
	}
	// Rows without a key never collide.
	if _, err := CreateQueueItem(context.Background(), db, "551100", "c", nil); err != nil {
		t.Fatalf("nil key insert: %v", err)
	}
	if _, err := CreateQueueItem(context.Background(), db, "551100", "d", nil); err != nil {
		t.Fatalf("second nil key insert: %v", err)
	}
}

func TestGetByIdempotencyKey(t *testing.T) {
	db := newQueueDB(t)
	key := "proposal-42"
	created, err := CreateQueueItem(context.Background(), db, "551100", "a", &key)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := GetByIdempotencyKey(context.Background(), db, key)
	if err != nil {
		t.Fatalf("GetByIdempotencyKey: %v", err)
	}
	if got.ID != created.ID {
		t.Fatalf("wrong row: got %s want %s", got.ID, created.ID)
	}

	if _, err := GetByIdempotencyKey(context.Background(), db, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimEligible_SkipsFutureScheduled(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ready := seedItem(t, db, "1")
	future := seedItem(t, db, "2")
	later := now.Add(time.Hour)
	db.Model(&domain.QueueItem{}).Where("id = ?", future.ID).Update("scheduled_at", later)

	claimed, err := ClaimEligible(ctx, db, now, 10)
	if err != nil {
		t.Fatalf("ClaimEligible: %v", err)
	}
	if len(claimed) != 1 || claimed[0].ID != ready.ID {
		t.Fatalf("expected only the eligible row, got %+v", claimed)
	}
	mustStatus(t, db, ready.ID, domain.StatusSending)
	mustStatus(t, db, future.ID, domain.StatusPending)
}

func TestClaimEligible_OldestFirstAndLimit(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		item := seedItem(t, db, fmt.Sprintf("55%d", i))
		db.Model(&domain.QueueItem{}).Where("id = ?", item.ID).
			Update("created_at", base.Add(time.Duration(i)*time.Minute))
		ids = append(ids, item.ID)
	}

	claimed, err := ClaimEligible(ctx, db, time.Now().UTC(), 2)
	if err != nil {
		t.Fatalf("ClaimEligible: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(claimed))
	}
	if claimed[0].ID != ids[0] || claimed[1].ID != ids[1] {
		t.Fatalf("expected oldest-first order, got %s, %s", claimed[0].ID, claimed[1].ID)
	}
	mustStatus(t, db, ids[2], domain.StatusPending)
}

func TestClaimEligible_AtMostOnceUnderConcurrency(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	const rows = 8
	for i := 0; i < rows; i++ {
		seedItem(t, db, fmt.Sprintf("55%d", i))
	}

	const workers = 4
	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := ClaimEligible(ctx, db, time.Now().UTC(), rows)
			if err != nil {
				t.Errorf("ClaimEligible: %v", err)
				return
			}
			mu.Lock()
			for _, it := range claimed {
				seen[it.ID]++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := 0
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("row %s claimed %d times", id, n)
		}
		total += n
	}
	if total != rows {
		t.Fatalf("expected all %d rows claimed exactly once, got %d", rows, total)
	}
}

func TestTransitions_HappyPath(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	item := seedItem(t, db, "5511")
	claimed, err := ClaimEligible(ctx, db, now, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: %v (%d)", err, len(claimed))
	}

	okSent, err := MarkSent(ctx, db, item.ID, "prov-123", now)
	if err != nil || !okSent {
		t.Fatalf("MarkSent: ok=%v err=%v", okSent, err)
	}
	got := mustStatus(t, db, item.ID, domain.StatusSent)
	if got.ProviderMessageID != "prov-123" || got.SentAt == nil || got.Error != "" {
		t.Fatalf("sent row not finalized: %+v", got)
	}

	// Terminal: a second MarkSent must be a no-op.
	okAgain, err := MarkSent(ctx, db, item.ID, "prov-456", now)
	if err != nil || okAgain {
		t.Fatalf("second MarkSent should affect nothing: ok=%v err=%v", okAgain, err)
	}
}

func TestTransitions_RetryLoopAndDead(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()
	next := now.Add(30 * time.Second)

	item := seedItem(t, db, "5511")
	if _, err := ClaimEligible(ctx, db, now, 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	okRetry, err := MarkRetrying(ctx, db, item.ID, "connection reset", next, now)
	if err != nil || !okRetry {
		t.Fatalf("MarkRetrying: ok=%v err=%v", okRetry, err)
	}
	got := mustStatus(t, db, item.ID, domain.StatusRetrying)
	if got.Retries != 1 || got.Error != "connection reset" || got.ScheduledAt == nil {
		t.Fatalf("retrying row not updated: %+v", got)
	}

	okReq, err := Requeue(ctx, db, item.ID, now)
	if err != nil || !okReq {
		t.Fatalf("Requeue: ok=%v err=%v", okReq, err)
	}
	mustStatus(t, db, item.ID, domain.StatusPending)

	// Not yet eligible: scheduled_at is in the future.
	claimed, err := ClaimEligible(ctx, db, now, 1)
	if err != nil || len(claimed) != 0 {
		t.Fatalf("expected no eligible rows before backoff elapses, got %d", len(claimed))
	}

	// After the backoff window the row is claimable again; exhaust it.
	claimed, err = ClaimEligible(ctx, db, next.Add(time.Second), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("expected claim after backoff, got %d (%v)", len(claimed), err)
	}
	if _, err := MarkRetrying(ctx, db, item.ID, "still down", next, now); err != nil {
		t.Fatalf("MarkRetrying: %v", err)
	}
	okDead, err := MarkDead(ctx, db, item.ID, "still down", now)
	if err != nil || !okDead {
		t.Fatalf("MarkDead: ok=%v err=%v", okDead, err)
	}
	got = mustStatus(t, db, item.ID, domain.StatusDead)
	if got.Retries != 2 {
		t.Fatalf("retries = %d, want 2", got.Retries)
	}
}

func TestCancel_OnlyPendingAndRetrying(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := seedItem(t, db, "1")
	sending := seedItem(t, db, "2")
	db.Model(&domain.QueueItem{}).Where("id = ?", sending.ID).Update("status", domain.StatusSending)

	n, err := Cancel(ctx, db, []string{pending.ID, sending.ID, "no-such-row"}, now)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected = %d, want 1", n)
	}
	mustStatus(t, db, pending.ID, domain.StatusCanceled)
	mustStatus(t, db, sending.ID, domain.StatusSending)
}

func TestReprocess_ResetsAndSkipsSentCanceled(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	dead := seedItem(t, db, "1")
	db.Model(&domain.QueueItem{}).Where("id = ?", dead.ID).Updates(map[string]any{
		"status": domain.StatusDead, "retries": 5, "error": "gave up", "scheduled_at": now,
	})
	sent := seedItem(t, db, "2")
	db.Model(&domain.QueueItem{}).Where("id = ?", sent.ID).Update("status", domain.StatusSent)

	n, err := Reprocess(ctx, db, []string{dead.ID, sent.ID}, now)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected = %d, want 1", n)
	}
	got := mustStatus(t, db, dead.ID, domain.StatusPending)
	if got.Retries != 0 || got.Error != "" || got.ScheduledAt != nil {
		t.Fatalf("reprocess did not reset row: %+v", got)
	}
	mustStatus(t, db, sent.ID, domain.StatusSent)
}

func TestPurgeDead_RemovesOnlyDeadRows(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	dead := seedItem(t, db, "1")
	db.Model(&domain.QueueItem{}).Where("id = ?", dead.ID).Update("status", domain.StatusDead)
	alive := seedItem(t, db, "2")

	n, err := PurgeDead(ctx, db)
	if err != nil {
		t.Fatalf("PurgeDead: %v", err)
	}
	if n != 1 {
		t.Fatalf("purged = %d, want 1", n)
	}
	if _, err := GetQueueItem(ctx, db, dead.ID); err != ErrNotFound {
		t.Fatalf("dead row should be gone, got %v", err)
	}
	mustStatus(t, db, alive.ID, domain.StatusPending)
}

func TestRequeueStaleSending(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	stale := seedItem(t, db, "1")
	db.Model(&domain.QueueItem{}).Where("id = ?", stale.ID).Updates(map[string]any{
		"status": domain.StatusSending, "updated_at": now.Add(-10 * time.Minute),
	})
	fresh := seedItem(t, db, "2")
	db.Model(&domain.QueueItem{}).Where("id = ?", fresh.ID).Updates(map[string]any{
		"status": domain.StatusSending, "updated_at": now,
	})

	n, err := RequeueStaleSending(ctx, db, now.Add(-5*time.Minute), now)
	if err != nil {
		t.Fatalf("RequeueStaleSending: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued = %d, want 1", n)
	}
	mustStatus(t, db, stale.ID, domain.StatusPending)
	mustStatus(t, db, fresh.ID, domain.StatusSending)
}

func TestCountsByStatus_IncludesZeroes(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	seedItem(t, db, "1")
	seedItem(t, db, "2")
	dead := seedItem(t, db, "3")
	db.Model(&domain.QueueItem{}).Where("id = ?", dead.ID).Update("status", domain.StatusDead)

	counts, err := CountsByStatus(ctx, db)
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts[domain.StatusPending] != 2 || counts[domain.StatusDead] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if _, ok := counts[domain.StatusSent]; !ok {
		t.Fatal("zero-count statuses must still be present")
	}
	if len(counts) != len(domain.AllStatuses()) {
		t.Fatalf("expected %d statuses, got %d", len(domain.AllStatuses()), len(counts))
	}
}

func TestListQueue_FilterAndPage(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedItem(t, db, fmt.Sprintf("55%d", i))
	}
	sent := seedItem(t, db, "9")
	db.Model(&domain.QueueItem{}).Where("id = ?", sent.ID).Update("status", domain.StatusSent)

	status := domain.StatusPending
	items, total, err := ListQueue(ctx, db, &status, 0, 2)
	if err != nil {
		t.Fatalf("ListQueue: %v", err)
	}
	if total != 3 || len(items) != 2 {
		t.Fatalf("total=%d len=%d, want 3/2", total, len(items))
	}

	items, total, err = ListQueue(ctx, db, nil, 0, 10)
	if err != nil {
		t.Fatalf("ListQueue all: %v", err)
	}
	if total != 4 || len(items) != 4 {
		t.Fatalf("total=%d len=%d, want 4/4", total, len(items))
	}
}
