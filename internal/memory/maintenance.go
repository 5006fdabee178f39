package memory

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
)

// Stats extends the store statistics with the state of the semantic layer.
type Stats struct {
	*store.Stats
	SemanticEnabled bool `json:"semantic_enabled"`
	IndexedVectors  int  `json:"indexed_vectors"`
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	st, err := m.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	out := &Stats{Stats: st, SemanticEnabled: m.SemanticEnabled()}
	if m.index != nil {
		out.IndexedVectors = m.index.Count()
	}
	return out, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*model.Memory, error) {
	return m.store.GetByID(ctx, id)
}

// Recent returns active memories created within the last days, newest first.
func (m *Manager) Recent(ctx context.Context, days, limit int) ([]model.Memory, error) {
	if days <= 0 {
		return nil, goerr.New("days must be positive", goerr.V("days", days), goerr.T(model.TagValidation))
	}
	if err := validLimit(limit); err != nil {
		return nil, err
	}
	return m.store.FindByFilter(ctx, store.FilterParams{
		Since:   time.Now().UTC().AddDate(0, 0, -days),
		Limit:   limit,
		OrderBy: store.OrderCreated,
	})
}

// Important returns active memories with importance >= min, highest first.
func (m *Manager) Important(ctx context.Context, min float64, limit int) ([]model.Memory, error) {
	if err := validImportance(min); err != nil {
		return nil, err
	}
	if err := validLimit(limit); err != nil {
		return nil, err
	}
	return m.store.FindByFilter(ctx, store.FilterParams{
		MinImportance: min,
		Limit:         limit,
		OrderBy:       store.OrderImportance,
	})
}

type ListParams struct {
	Category        string
	Tags            []string
	IncludeArchived bool
	Limit           int
}

func (m *Manager) List(ctx context.Context, p ListParams) ([]model.Memory, error) {
	cat, err := model.ParseCategory(p.Category)
	if err != nil {
		return nil, err
	}
	if err := validLimit(p.Limit); err != nil {
		return nil, err
	}
	return m.store.FindByFilter(ctx, store.FilterParams{
		Category:        cat,
		Tags:            model.NormalizeTags(p.Tags),
		IncludeArchived: p.IncludeArchived,
		Limit:           p.Limit,
	})
}

type ResyncResult struct {
	Reset  int `json:"reset"`
	Queued int `json:"queued"`
}

// Resync gives failed syncs a fresh attempt budget and queues everything
// pending.
func (m *Manager) Resync(ctx context.Context) (*ResyncResult, error) {
	if m.coord == nil {
		return nil, goerr.New("semantic layer disabled", goerr.T(model.TagEmbeddingUnavailable))
	}
	reset, queued, err := m.coord.Sweep(ctx)
	if err != nil {
		return nil, err
	}
	return &ResyncResult{Reset: reset, Queued: queued}, nil
}

// Rebuild drops every vector and re-projects all records, archived ones
// included, from the structured store.
func (m *Manager) Rebuild(ctx context.Context) (int, error) {
	if m.coord == nil {
		return 0, goerr.New("semantic layer disabled", goerr.T(model.TagEmbeddingUnavailable))
	}
	if err := m.index.Reset(ctx); err != nil {
		return 0, err
	}
	all, err := m.store.ExportAll(ctx, "")
	if err != nil {
		return 0, err
	}
	for _, rec := range all {
		if err := m.store.MarkPending(ctx, rec.ID, store.OpUpsert); err != nil {
			return 0, err
		}
	}
	if _, _, err := m.coord.Sweep(ctx); err != nil {
		return 0, err
	}
	m.logger.Info("rebuilding vector index", "records", len(all))
	return len(all), nil
}

// Export returns every record, archived ones included, oldest first. An
// empty category exports all categories.
func (m *Manager) Export(ctx context.Context, category string) ([]model.Memory, error) {
	cat, err := model.ParseCategory(category)
	if err != nil {
		return nil, err
	}
	return m.store.ExportAll(ctx, cat)
}

// Import inserts records that do not exist yet and queues their projection.
func (m *Manager) Import(ctx context.Context, mems []model.Memory) (int, error) {
	n, err := m.store.Import(ctx, mems)
	if err != nil {
		return 0, err
	}
	if n > 0 && m.coord != nil {
		if _, _, err := m.coord.Sweep(ctx); err != nil {
			m.logger.Warn("queue imported records", "error", err)
		}
	}
	m.logger.Info("imported", "records", n, "skipped", len(mems)-n)
	return n, nil
}
