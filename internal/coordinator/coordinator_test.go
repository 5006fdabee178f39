package coordinator_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"

	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/coordinator"
	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

// fakeIndex is an in-memory vector.Index with knobs for failure injection.
type fakeIndex struct {
	mu      sync.Mutex
	vecs    map[string]vector.Metadata
	failN   int  // fail this many upserts before succeeding
	down    bool // fail every call
	hang    bool // block until the context ends
	gate    chan struct{}
	entered chan struct{}
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{vecs: make(map[string]vector.Metadata)}
}

func (f *fakeIndex) Upsert(ctx context.Context, id string, vec []float32, meta vector.Metadata) error {
	f.mu.Lock()
	gate, entered, hang := f.gate, f.entered, f.hang
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if hang {
		<-ctx.Done()
		return goerr.Wrap(ctx.Err(), "upsert timed out", goerr.T(model.TagIndexUnavailable))
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goerr.New("index down", goerr.T(model.TagIndexUnavailable))
	}
	if f.failN > 0 {
		f.failN--
		return goerr.New("transient", goerr.T(model.TagIndexUnavailable))
	}
	f.vecs[id] = meta
	return nil
}

func (f *fakeIndex) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return goerr.New("index down", goerr.T(model.TagIndexUnavailable))
	}
	delete(f.vecs, id)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vec []float32, topK int, flt vector.Filter) ([]vector.Hit, error) {
	return nil, nil
}

func (f *fakeIndex) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.vecs)
}

func (f *fakeIndex) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vecs = make(map[string]vector.Metadata)
	return nil
}

func (f *fakeIndex) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.vecs[id]
	return ok
}

func (f *fakeIndex) set(fn func(f *fakeIndex)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		QueueSize:   16,
		MaxAttempts: 3,
		BaseBackoff: 5 * time.Millisecond,
		MaxBackoff:  20 * time.Millisecond,
		OpTimeout:   time.Second,
	}
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "mem.db"))
	gt.NoError(t, err).Required()
	t.Cleanup(func() { s.Close() })
	return s
}

func newCoordinator(s *store.SQLiteStore, idx vector.Index, cfg config.SyncConfig) *coordinator.Coordinator {
	return coordinator.New(s, idx, embedding.NewHashEmbedder(64), cfg,
		coordinator.WithLogger(logging.Discard()))
}

func insert(t *testing.T, s *store.SQLiteStore, content string) *model.Memory {
	t.Helper()
	m, err := s.Insert(context.Background(), store.InsertParams{
		Content: content, Category: model.CategoryGeneral, Importance: 0.5,
	})
	gt.NoError(t, err).Required()
	return m
}

func waitIdle(t *testing.T, c *coordinator.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	gt.NoError(t, c.WaitIdle(ctx)).Required()
}

func syncState(t *testing.T, s *store.SQLiteStore, id string) model.SyncState {
	t.Helper()
	m, err := s.GetByID(context.Background(), id)
	gt.NoError(t, err).Required()
	return m.SyncState
}

func TestUpsertConverges(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "Lisbon trip planned for November")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.True(t, idx.has(m.ID))
	gt.Equal(t, syncState(t, s, m.ID), model.SyncSynced)
}

func TestResumeOnStart(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	a := insert(t, s, "first")
	b := insert(t, s, "second")

	idx := newFakeIndex()
	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()
	waitIdle(t, c)

	gt.True(t, idx.has(a.ID))
	gt.True(t, idx.has(b.ID))
	gt.Equal(t, syncState(t, s, a.ID), model.SyncSynced)
}

func TestDeleteSupersedesQueuedUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	c := newCoordinator(s, idx, testSyncConfig())

	m := insert(t, s, "short lived")
	c.Enqueue(m.ID)
	gt.NoError(t, s.Delete(ctx, m.ID)).Required()
	c.Enqueue(m.ID)

	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()
	waitIdle(t, c)

	gt.False(t, idx.has(m.ID))
	_, err := s.LedgerEntry(ctx, m.ID)
	gt.True(t, model.IsNotFound(err))
}

func TestDeleteDuringInFlightUpsert(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	idx.set(func(f *fakeIndex) { f.gate, f.entered = gate, entered })

	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "racing record")
	c.Enqueue(m.ID)
	<-entered

	gt.NoError(t, s.Delete(ctx, m.ID)).Required()
	c.Enqueue(m.ID)
	idx.set(func(f *fakeIndex) { f.gate, f.entered = nil, nil })
	close(gate)

	waitIdle(t, c)
	gt.False(t, idx.has(m.ID))
	_, err := s.LedgerEntry(ctx, m.ID)
	gt.True(t, model.IsNotFound(err))
}

func TestTransientFailureRetries(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	idx.set(func(f *fakeIndex) { f.failN = 2 })

	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "eventually consistent")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.True(t, idx.has(m.ID))
	gt.Equal(t, syncState(t, s, m.ID), model.SyncSynced)
}

func TestExhaustedRetriesMarkFailedUntilSweep(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	idx.set(func(f *fakeIndex) { f.down = true })

	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "stranded")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.Equal(t, syncState(t, s, m.ID), model.SyncFailed)
	entry, err := s.LedgerEntry(ctx, m.ID)
	gt.NoError(t, err).Required()
	gt.Equal(t, entry.Attempts, 3)
	gt.S(t, entry.LastError).Contains("index down")

	idx.set(func(f *fakeIndex) { f.down = false })
	reset, queued, err := c.Sweep(ctx)
	gt.NoError(t, err).Required()
	gt.Equal(t, reset, 1)
	gt.Equal(t, queued, 1)
	waitIdle(t, c)

	gt.True(t, idx.has(m.ID))
	gt.Equal(t, syncState(t, s, m.ID), model.SyncSynced)
}

func TestSlowIndexCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	idx.set(func(f *fakeIndex) { f.hang = true })

	cfg := testSyncConfig()
	cfg.OpTimeout = 20 * time.Millisecond
	cfg.MaxAttempts = 2
	c := newCoordinator(s, idx, cfg)
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "slow")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.Equal(t, syncState(t, s, m.ID), model.SyncFailed)
}

func TestMissingEmbedderFails(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	cfg := testSyncConfig()
	cfg.MaxAttempts = 1
	c := coordinator.New(s, idx, nil, cfg, coordinator.WithLogger(logging.Discard()))
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "no vectors")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.Equal(t, syncState(t, s, m.ID), model.SyncFailed)
	entry, err := s.LedgerEntry(ctx, m.ID)
	gt.NoError(t, err).Required()
	gt.S(t, entry.LastError).Contains("no embedder")
}

func TestFullQueueDefersToLedger(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	cfg := testSyncConfig()
	cfg.QueueSize = 1
	c := newCoordinator(s, idx, cfg)

	var ids []string
	for _, content := range []string{"one", "two", "three"} {
		m := insert(t, s, content)
		c.Enqueue(m.ID)
		ids = append(ids, m.ID)
	}

	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()
	waitIdle(t, c)

	for _, id := range ids {
		gt.True(t, idx.has(id))
	}
}

func TestArchiveProjectsMetadata(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := newFakeIndex()
	c := newCoordinator(s, idx, testSyncConfig())
	gt.NoError(t, c.Start(ctx)).Required()
	defer c.Stop()

	m := insert(t, s, "old news")
	c.Enqueue(m.ID)
	waitIdle(t, c)

	gt.NoError(t, s.Archive(ctx, m.ID)).Required()
	c.Enqueue(m.ID)
	waitIdle(t, c)

	idx.mu.Lock()
	meta := idx.vecs[m.ID]
	idx.mu.Unlock()
	gt.True(t, meta.Archived)
	gt.Equal(t, syncState(t, s, m.ID), model.SyncSynced)
}

func TestSweepSchedule(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	cfg := testSyncConfig()
	cfg.SweepSchedule = "not a schedule"
	bad := newCoordinator(s, newFakeIndex(), cfg)
	err := bad.Start(ctx)
	gt.Error(t, err)
	gt.True(t, model.IsValidation(err))

	cfg.SweepSchedule = "@every 1h"
	good := newCoordinator(s, newFakeIndex(), cfg)
	gt.NoError(t, good.Start(ctx)).Required()
	good.Stop()
	good.Stop()
}

func TestSweepRequiresRunning(t *testing.T) {
	s := newStore(t)
	c := newCoordinator(s, newFakeIndex(), testSyncConfig())
	_, _, err := c.Sweep(context.Background())
	gt.Error(t, err)
}
