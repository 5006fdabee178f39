package store

import (
	"context"
	"testing"

	"github.com/rcliao/layered-memory/internal/model"
)

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustInsert(t, s, InsertParams{Content: "book flights"})
	e, err := s.LedgerEntry(ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if e.Op != OpUpsert || e.State != model.SyncPending || e.Attempts != 0 {
		t.Fatalf("unexpected initial entry: %+v", e)
	}

	n, err := s.RecordFailure(ctx, m.ID, e.Version, "index unavailable")
	if err != nil || n != 1 {
		t.Fatalf("record failure: n=%d err=%v", n, err)
	}
	n, _ = s.RecordFailure(ctx, m.ID, e.Version, "index unavailable")
	if n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}

	ok, err := s.MarkFailed(ctx, m.ID, e.Version)
	if err != nil || !ok {
		t.Fatalf("mark failed: ok=%v err=%v", ok, err)
	}
	got, _ := s.GetByID(ctx, m.ID)
	if got.SyncState != model.SyncFailed {
		t.Errorf("expected failed state on record, got %s", got.SyncState)
	}

	failed, _ := s.ListLedger(ctx, model.SyncFailed, 0)
	if len(failed) != 1 || failed[0].LastError != "index unavailable" || failed[0].LastAttempt == nil {
		t.Errorf("unexpected failed list: %+v", failed)
	}

	reset, err := s.ResetFailed(ctx)
	if err != nil || reset != 1 {
		t.Fatalf("reset: n=%d err=%v", reset, err)
	}
	e2, _ := s.LedgerEntry(ctx, m.ID)
	if e2.State != model.SyncPending || e2.Attempts != 0 || e2.Version <= e.Version {
		t.Errorf("expected fresh pending entry, got %+v", e2)
	}

	// an outcome for the superseded version is ignored
	ok, _ = s.MarkSynced(ctx, m.ID, e.Version)
	if ok {
		t.Error("stale version must not mark synced")
	}
	ok, _ = s.MarkSynced(ctx, m.ID, e2.Version)
	if !ok {
		t.Error("expected current version to mark synced")
	}
	got, _ = s.GetByID(ctx, m.ID)
	if got.SyncState != model.SyncSynced {
		t.Errorf("expected synced, got %s", got.SyncState)
	}
}

func TestLedgerDeleteTakesOver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m := mustInsert(t, s, InsertParams{Content: "call mom"})
	upsert, _ := s.LedgerEntry(ctx, m.ID)

	if err := s.Delete(ctx, m.ID); err != nil {
		t.Fatal(err)
	}

	// the in-flight upsert finishing late cannot resurrect state
	if ok, _ := s.MarkSynced(ctx, m.ID, upsert.Version); ok {
		t.Error("upsert result must not apply after delete")
	}
	del, _ := s.LedgerEntry(ctx, m.ID)
	if del.Op != OpDelete {
		t.Fatalf("expected delete op, got %s", del.Op)
	}

	ok, err := s.ClearLedger(ctx, m.ID, del.Version)
	if err != nil || !ok {
		t.Fatalf("clear: ok=%v err=%v", ok, err)
	}
	if _, err := s.LedgerEntry(ctx, m.ID); !model.IsNotFound(err) {
		t.Errorf("expected ledger entry to be gone, got %v", err)
	}
}

func TestListLedgerOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, c := range []string{"one", "two", "three"} {
		mustInsert(t, s, InsertParams{Content: c})
	}
	all, err := s.ListLedger(ctx, model.SyncPending, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].UpdatedAt.Before(all[i-1].UpdatedAt) {
			t.Errorf("expected oldest first")
		}
	}
	two, _ := s.ListLedger(ctx, model.SyncPending, 2)
	if len(two) != 2 {
		t.Errorf("expected limit 2, got %d", len(two))
	}

	if err := s.MarkPending(ctx, all[0].ID, OpUpsert); err != nil {
		t.Fatal(err)
	}
	e, _ := s.LedgerEntry(ctx, all[0].ID)
	if e.Version != all[0].Version+1 {
		t.Errorf("expected version bump, got %d", e.Version)
	}
}
