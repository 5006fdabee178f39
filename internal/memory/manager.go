// Package memory is the public facade of the engine. It classifies and
// scores new memories, writes them to the structured store, hands vector
// sync to the coordinator and answers recall queries through the retrieval
// service.
package memory

import (
	"context"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/classify"
	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/coordinator"
	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/importance"
	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/retrieval"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

// Options are the manager's dependencies. Store is required. A nil Index or
// Embedder disables semantic recall and vector sync; records then stay
// pending until an engine with both is started.
type Options struct {
	Store      store.Store
	Index      vector.Index
	Embedder   embedding.Embedder
	Classifier *classify.Classifier
	Scorer     *importance.Scorer
	Logger     *slog.Logger
	Config     *config.Config
}

type Manager struct {
	store      store.Store
	index      vector.Index
	embedder   embedding.Embedder
	classifier *classify.Classifier
	scorer     *importance.Scorer
	cfg        *config.Config
	logger     *slog.Logger

	retrieval *retrieval.Service
	coord     *coordinator.Coordinator
}

func New(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, goerr.New("store is required", goerr.T(model.TagValidation))
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	if opts.Classifier == nil {
		opts.Classifier = classify.New()
	}
	if opts.Scorer == nil {
		opts.Scorer = importance.New()
	}

	m := &Manager{
		store:      opts.Store,
		index:      opts.Index,
		embedder:   opts.Embedder,
		classifier: opts.Classifier,
		scorer:     opts.Scorer,
		cfg:        cfg,
		logger:     logging.Component(opts.Logger, "memory"),
	}
	m.retrieval = retrieval.New(opts.Store, opts.Index, opts.Embedder, cfg.Retrieval, opts.Logger)
	if opts.Index != nil && opts.Embedder != nil {
		m.coord = coordinator.New(opts.Store, opts.Index, opts.Embedder, cfg.Sync,
			coordinator.WithLogger(opts.Logger),
			coordinator.WithChunkSize(cfg.Embedding.ChunkSize))
	}
	return m, nil
}

// SemanticEnabled reports whether the manager has both an index and an
// embedder.
func (m *Manager) SemanticEnabled() bool { return m.coord != nil }

// Start begins vector sync, resuming anything left pending by a previous
// process.
func (m *Manager) Start(ctx context.Context) error {
	if m.coord == nil {
		m.logger.Info("semantic layer disabled, recall is keyword only")
		return nil
	}
	return m.coord.Start(ctx)
}

// Close stops sync and releases the store. Unfinished syncs stay pending.
func (m *Manager) Close() error {
	if m.coord != nil {
		m.coord.Stop()
	}
	if c, ok := m.embedder.(interface{ Close() }); ok {
		c.Close()
	}
	if c, ok := m.index.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Warn("close vector index", "error", err)
		}
	}
	return m.store.Close()
}

// WaitIdle blocks until the sync queue is drained.
func (m *Manager) WaitIdle(ctx context.Context) error {
	if m.coord == nil {
		return nil
	}
	return m.coord.WaitIdle(ctx)
}

// WaitSynced polls until the record's vector projection is current. It
// returns the final state, which is failed if sync gave up.
func (m *Manager) WaitSynced(ctx context.Context, id string) (model.SyncState, error) {
	if m.coord == nil {
		return model.SyncPending, goerr.New("semantic layer disabled", goerr.T(model.TagEmbeddingUnavailable))
	}
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		rec, err := m.store.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		if rec.SyncState != model.SyncPending {
			return rec.SyncState, nil
		}
		select {
		case <-ctx.Done():
			return rec.SyncState, goerr.Wrap(ctx.Err(), "waiting for sync", goerr.V("id", id))
		case <-ticker.C:
		}
	}
}

func (m *Manager) enqueue(id string) {
	if m.coord != nil {
		m.coord.Enqueue(id)
	}
}

type RememberParams struct {
	Content string
	// Category is optional; empty means classify the content.
	Category string
	// Importance is optional; nil means score the content. Out-of-range
	// values are clamped to [0,1].
	Importance *float64
	Tags       []string
}

// Remember stores a memory and queues its vector projection. The record is
// visible to keyword recall as soon as Remember returns.
func (m *Manager) Remember(ctx context.Context, p RememberParams) (*model.Memory, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, goerr.New("content is required", goerr.T(model.TagValidation))
	}

	cat, err := model.ParseCategory(p.Category)
	if err != nil {
		return nil, err
	}
	if cat == "" {
		cat = m.classifier.Classify(content)
	}

	var score float64
	if p.Importance != nil {
		if err := model.ValidateImportance(*p.Importance); err != nil {
			return nil, err
		}
		score = model.ClampImportance(*p.Importance)
	} else {
		score = m.scorer.Score(content, cat)
	}

	mem, err := m.store.Insert(ctx, store.InsertParams{
		Content:    content,
		Category:   cat,
		Importance: score,
		Tags:       p.Tags,
	})
	if err != nil {
		return nil, err
	}
	m.enqueue(mem.ID)

	m.logger.Info("remembered", "id", mem.ID, "category", mem.Category, "importance", mem.Importance)
	return mem, nil
}

type RecallParams struct {
	Query    string
	TopK     int
	Category string
	// QueryType is one of the retrieval query types; empty means complex.
	QueryType string
	// Threshold is the minimum cosine similarity for semantic hits; nil
	// means DefaultThreshold.
	Threshold       *float64
	IncludeArchived bool
}

const DefaultThreshold = 0.5

type RecallResult = retrieval.Result

// Recall runs a hybrid query and records an access on every returned memory.
// Vector-side failures never fail the call; the result is marked degraded.
func (m *Manager) Recall(ctx context.Context, p RecallParams) (*RecallResult, error) {
	cat, err := model.ParseCategory(p.Category)
	if err != nil {
		return nil, err
	}
	qt, err := retrieval.ParseQueryType(p.QueryType)
	if err != nil {
		return nil, err
	}
	if p.TopK < 0 {
		return nil, goerr.New("top k must not be negative", goerr.V("top_k", p.TopK), goerr.T(model.TagValidation))
	}
	threshold := DefaultThreshold
	if p.Threshold != nil {
		threshold = *p.Threshold
	}

	res, err := m.retrieval.Search(ctx, retrieval.Params{
		Query:           p.Query,
		TopK:            p.TopK,
		Category:        cat,
		QueryType:       qt,
		Threshold:       threshold,
		IncludeArchived: p.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	kept := res.Records[:0]
	for _, r := range res.Records {
		err := m.store.UpdateAccess(ctx, r.ID)
		if model.IsNotFound(err) {
			// forgotten between search and bookkeeping
			continue
		}
		if err != nil {
			return nil, err
		}
		r.AccessCount++
		accessed := now
		r.LastAccessedAt = &accessed
		kept = append(kept, r)
	}
	res.Records = kept

	m.logger.Debug("recalled", "query_type", qt, "results", len(res.Records), "degraded", res.Degraded)
	return res, nil
}

// ForgetPolicy returns the configured forget policy.
func (m *Manager) ForgetPolicy() config.ForgetConfig { return m.cfg.Forget }

type ForgetParams struct {
	Pattern string
	// Policy overrides the configured forget policy for this call.
	Policy *config.ForgetConfig
	// Hard deletes every match regardless of policy, including records
	// that are already archived.
	Hard bool
}

type ForgetResult struct {
	Pattern    string `json:"pattern"`
	TotalFound int    `json:"total_found"`
	Deleted    int    `json:"deleted"`
	Archived   int    `json:"archived"`
}

// Forget archives or deletes every memory whose content contains pattern,
// compared case-insensitively. Already archived records only match when
// Hard is set.
func (m *Manager) Forget(ctx context.Context, p ForgetParams) (*ForgetResult, error) {
	pattern := strings.TrimSpace(p.Pattern)
	if pattern == "" {
		return nil, goerr.New("pattern is required", goerr.T(model.TagValidation))
	}
	policy := m.cfg.Forget
	if p.Policy != nil {
		policy = *p.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	matches, err := m.store.FindByPattern(ctx, store.PatternParams{
		Pattern:         pattern,
		IncludeArchived: p.Hard,
	})
	if err != nil {
		return nil, err
	}

	res := &ForgetResult{Pattern: pattern, TotalFound: len(matches)}
	for _, rec := range matches {
		archive := !p.Hard && policy.Archives(rec.Importance)

		if archive {
			err = m.store.Archive(ctx, rec.ID)
		} else {
			err = m.store.Delete(ctx, rec.ID)
		}
		if model.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.enqueue(rec.ID)

		if archive {
			res.Archived++
		} else {
			res.Deleted++
		}
	}

	m.logger.Info("forgot", "pattern", pattern, "found", res.TotalFound,
		"deleted", res.Deleted, "archived", res.Archived, "mode", policy.Mode, "hard", p.Hard)
	return res, nil
}

func validLimit(limit int) error {
	if limit < 0 {
		return goerr.New("limit must not be negative", goerr.V("limit", limit), goerr.T(model.TagValidation))
	}
	return nil
}

func validImportance(v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return goerr.New("importance must be within [0,1]", goerr.V("importance", v), goerr.T(model.TagValidation))
	}
	return nil
}
