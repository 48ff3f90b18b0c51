package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/caseflow/go-messaging-backend/internal/breaker"
	"github.com/caseflow/go-messaging-backend/internal/repo"
)

// newServiceDB opens an isolated migrated database for one test.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("services_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA busy_timeout=5000;")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// fakeTransport is a scripted Transport: it fails while failures > 0, then
// succeeds with sequential provider IDs. Counts every invocation.
type fakeTransport struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (f *fakeTransport) Send(ctx context.Context, destination, payload string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		err := f.err
		if err == nil {
			err = errors.New("transport unavailable")
		}
		return "", err
	}
	return fmt.Sprintf("prov-%d", f.calls), nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// alwaysFailing returns a transport that never succeeds.
func alwaysFailing(err error) *fakeTransport {
	return &fakeTransport{failures: -1, err: err}
}

// newTestWorker wires a worker with a wide-open breaker and immediate,
// jitter-free backoff so retries become eligible right away.
func newTestWorker(db *gorm.DB, ft *fakeTransport) *DispatchWorker {
	w := NewDispatchWorker(db, ft, breaker.New("test", breaker.Config{Threshold: 1000}))
	w.BackoffBase = time.Millisecond
	w.BackoffCap = time.Millisecond
	w.JitterFrac = 0
	return w
}
