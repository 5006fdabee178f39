package coordinator

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

// process handles one id. The ledger row, not the queue, says what to do:
// a delete recorded after an upsert was queued replaces it.
func (c *Coordinator) process(ctx context.Context, id string) {
	entry, err := c.src.LedgerEntry(ctx, id)
	if model.IsNotFound(err) {
		return
	}
	if err != nil {
		c.logger.Warn("load ledger entry", "id", id, "error", err)
		return
	}
	if entry.State != model.SyncPending {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	gone, err := c.apply(opCtx, entry)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			// shutting down; the row stays pending for the next start
			return
		}
		c.fail(ctx, entry, err)
		return
	}

	var applied bool
	if gone {
		applied, err = c.src.ClearLedger(ctx, id, entry.Version)
	} else {
		applied, err = c.src.MarkSynced(ctx, id, entry.Version)
	}
	if err != nil {
		c.logger.Warn("record sync outcome", "id", id, "error", err)
		return
	}
	if !applied {
		c.logger.Debug("sync superseded by newer request", "id", id, "version", entry.Version)
		return
	}
	c.logger.Debug("synced", "id", id, "op", entry.Op, "removed", gone)
}

// apply performs the index write. gone reports that the record no longer
// exists and its vector was removed.
func (c *Coordinator) apply(ctx context.Context, e *store.LedgerEntry) (gone bool, err error) {
	if e.Op == store.OpDelete {
		return true, c.index.Delete(ctx, e.ID)
	}

	rec, err := c.src.GetByID(ctx, e.ID)
	if model.IsNotFound(err) {
		return true, c.index.Delete(ctx, e.ID)
	}
	if err != nil {
		return false, err
	}

	if c.embedder == nil {
		return false, goerr.New("no embedder configured", goerr.T(model.TagEmbeddingUnavailable))
	}
	vec, err := embedding.EmbedDocument(ctx, c.embedder, rec.Content, c.chunkSize)
	if err != nil {
		return false, err
	}
	return false, c.index.Upsert(ctx, rec.ID, vec, vector.Metadata{
		Category: rec.Category,
		Archived: rec.Archived,
	})
}

func (c *Coordinator) fail(ctx context.Context, e *store.LedgerEntry, cause error) {
	attempts, err := c.src.RecordFailure(ctx, e.ID, e.Version, cause.Error())
	if err != nil {
		c.logger.Warn("record sync failure", "id", e.ID, "error", err)
		return
	}
	if attempts == 0 {
		return
	}

	if attempts >= c.cfg.MaxAttempts {
		if _, err := c.src.MarkFailed(ctx, e.ID, e.Version); err != nil {
			c.logger.Warn("mark sync failed", "id", e.ID, "error", err)
			return
		}
		c.logger.Warn("sync failed, parked until next sweep", "id", e.ID, "op", e.Op, "attempts", attempts, "error", cause)
		return
	}

	delay := c.backoff(attempts)
	c.logger.Info("sync attempt failed, retrying", "id", e.ID, "attempt", attempts, "delay", delay, "error", cause)
	c.retryAfter(e.ID, delay)
}

// backoff is BaseBackoff * 2^(attempt-1), capped at MaxBackoff.
func (c *Coordinator) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return d
}

func (c *Coordinator) retryAfter(id string, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	// Enqueue drops the timer entry and queues the id under one lock, so
	// WaitIdle never observes a gap between the two.
	c.timers[id] = time.AfterFunc(delay, func() { c.Enqueue(id) })
}
