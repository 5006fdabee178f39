// Package coordinator keeps the vector index consistent with the structured
// store. Writes to the store mark a ledger row pending; a single worker
// drains a bounded queue, embeds and projects the record, and moves the row
// to synced, or to failed after bounded retries.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/robfig/cron/v3"

	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

// Source is what the coordinator needs from the structured store.
type Source interface {
	GetByID(ctx context.Context, id string) (*model.Memory, error)
	store.Ledger
}

type Option func(*Coordinator)

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logging.Component(l, "coordinator") }
}

// WithChunkSize sets the embedding window size for long content.
func WithChunkSize(n int) Option {
	return func(c *Coordinator) { c.chunkSize = n }
}

type Coordinator struct {
	src       Source
	index     vector.Index
	embedder  embedding.Embedder
	cfg       config.SyncConfig
	chunkSize int
	logger    *slog.Logger

	queue chan string

	mu       sync.Mutex
	queued   map[string]bool
	timers   map[string]*time.Timer
	inflight int
	feeding  int
	started  bool
	stopped  bool
	cancel   context.CancelFunc
	cron     *cron.Cron

	wg sync.WaitGroup
}

func New(src Source, index vector.Index, embedder embedding.Embedder, cfg config.SyncConfig, opts ...Option) *Coordinator {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = config.DefaultQueueSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = config.DefaultBaseBackoff
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = config.DefaultOpTimeout
	}

	c := &Coordinator{
		src:       src,
		index:     index,
		embedder:  embedder,
		cfg:       cfg,
		chunkSize: config.DefaultChunkSize,
		logger:    logging.Component(nil, "coordinator"),
		queue:     make(chan string, cfg.QueueSize),
		queued:    make(map[string]bool),
		timers:    make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the worker, resumes every pending ledger row and, when a
// sweep schedule is configured, the periodic resync sweep. Start is
// idempotent.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.started = true
	c.cancel = cancel
	c.mu.Unlock()

	if c.cfg.SweepSchedule != "" {
		cr := cron.New()
		_, err := cr.AddFunc(c.cfg.SweepSchedule, func() {
			if _, _, err := c.Sweep(runCtx); err != nil {
				c.logger.Warn("scheduled sweep failed", "error", err)
			}
		})
		if err != nil {
			cancel()
			c.mu.Lock()
			c.started = false
			c.mu.Unlock()
			return goerr.Wrap(err, "invalid sweep schedule", goerr.V("schedule", c.cfg.SweepSchedule), goerr.T(model.TagValidation))
		}
		c.mu.Lock()
		c.cron = cr
		c.mu.Unlock()
		cr.Start()
	}

	c.wg.Add(1)
	go c.run(runCtx)

	pending, err := c.src.ListLedger(runCtx, model.SyncPending, 0)
	if err != nil {
		c.logger.Warn("could not load pending syncs", "error", err)
		return nil
	}
	if len(pending) > 0 {
		c.logger.Info("resuming pending syncs", "count", len(pending))
		c.feedAsync(runCtx, entryIDs(pending))
	}
	return nil
}

// Stop halts the worker, retry timers and the sweep schedule. Work not yet
// finished stays pending in the ledger and resumes on the next Start.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.started || c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	cr := c.cron
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.mu.Unlock()

	if cr != nil {
		<-cr.Stop().Done()
	}
	cancel()
	c.wg.Wait()
}

// Enqueue asks for id to be synced according to its ledger row. It never
// blocks: when the queue is full the row simply stays pending until the next
// sweep picks it up.
func (c *Coordinator) Enqueue(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
	if c.queued[id] {
		return
	}
	select {
	case c.queue <- id:
		c.queued[id] = true
	default:
		c.logger.Warn("sync queue full, deferring to sweep", "id", id, "capacity", cap(c.queue))
	}
}

// Sweep moves failed rows back to pending and queues every pending row.
// It returns how many rows were reset and how many were queued.
func (c *Coordinator) Sweep(ctx context.Context) (reset int, queued int, err error) {
	c.mu.Lock()
	running := c.started && !c.stopped
	c.mu.Unlock()
	if !running {
		return 0, 0, goerr.New("coordinator is not running")
	}

	reset, err = c.src.ResetFailed(ctx)
	if err != nil {
		return 0, 0, err
	}
	pending, err := c.src.ListLedger(ctx, model.SyncPending, 0)
	if err != nil {
		return reset, 0, err
	}
	if reset > 0 {
		c.logger.Info("resync sweep reset failed syncs", "count", reset)
	}
	c.feedAsync(ctx, entryIDs(pending))
	return reset, len(pending), nil
}

// WaitIdle blocks until nothing is queued, in flight or waiting on a retry.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return goerr.Wrap(ctx.Err(), "waiting for sync to settle")
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queued) == 0 && len(c.timers) == 0 && c.inflight == 0 && c.feeding == 0
}

// feedAsync queues ids with blocking sends so a large backlog respects the
// queue bound instead of being dropped.
func (c *Coordinator) feedAsync(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	c.mu.Lock()
	c.feeding++
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			c.feeding--
			c.mu.Unlock()
		}()

		for _, id := range ids {
			c.mu.Lock()
			if c.queued[id] || c.stopped {
				c.mu.Unlock()
				continue
			}
			c.queued[id] = true
			c.mu.Unlock()

			select {
			case c.queue <- id:
			case <-ctx.Done():
				c.mu.Lock()
				delete(c.queued, id)
				c.mu.Unlock()
				return
			}
		}
	}()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.mu.Lock()
			delete(c.queued, id)
			c.inflight++
			c.mu.Unlock()

			c.process(ctx, id)

			c.mu.Lock()
			c.inflight--
			c.mu.Unlock()
		}
	}
}

func entryIDs(entries []store.LedgerEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}
