package repo

import (
	"context"
	"testing"
)

func TestAppendAndListLogs_OrderedByCreation(t *testing.T) {
	db := newQueueDB(t)
	ctx := context.Background()

	const internalID = "11111111-1111-1111-1111-111111111111"
	for _, ev := range []string{"enqueued", "attempt", "sent"} {
		if err := AppendLog(ctx, db, internalID, "info", ev, "detail for "+ev); err != nil {
			t.Fatalf("AppendLog(%s): %v", ev, err)
		}
	}
	// Unrelated message must not leak into the listing.
	if err := AppendLog(ctx, db, "22222222-2222-2222-2222-222222222222", "warn", "attempt", "other"); err != nil {
		t.Fatalf("AppendLog other: %v", err)
	}

	logs, err := ListLogs(ctx, db, internalID, 0)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(logs))
	}
	for i, want := range []string{"enqueued", "attempt", "sent"} {
		if logs[i].Event != want {
			t.Fatalf("logs[%d].Event = %q, want %q", i, logs[i].Event, want)
		}
	}

	limited, err := ListLogs(ctx, db, internalID, 2)
	if err != nil {
		t.Fatalf("ListLogs limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected 2 entries with limit, got %d", len(limited))
	}
}
