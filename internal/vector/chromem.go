package vector

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/model"
)

const (
	collectionName = "memories"

	metaKind     = "kind"
	metaCategory = "category"
	metaArchived = "archived"
	kindMemory   = "memory"
)

// ChromemIndex implements Index on an embedded chromem-go database.
type ChromemIndex struct {
	db     *chromem.DB
	col    *chromem.Collection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewChromemIndex opens a persistent index in dir, or an in-memory one when
// dir is empty.
func NewChromemIndex(dir string, logger *slog.Logger) (*ChromemIndex, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, goerr.Wrap(err, "open vector db", goerr.V("dir", dir), goerr.T(model.TagIndexUnavailable))
		}
	}

	// embeddings are always supplied by the caller, so no embedding func
	col, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "open collection", goerr.V("collection", collectionName), goerr.T(model.TagIndexUnavailable))
	}

	return &ChromemIndex{
		db:     db,
		col:    col,
		logger: logging.Component(logger, "vector"),
	}, nil
}

func (x *ChromemIndex) Upsert(ctx context.Context, id string, vec []float32, meta Metadata) error {
	if err := checkVector(vec); err != nil {
		return goerr.Wrap(err, "upsert rejected", goerr.V("id", id))
	}
	doc := chromem.Document{
		ID:        id,
		Embedding: append([]float32(nil), vec...),
		Metadata: map[string]string{
			metaKind:     kindMemory,
			metaCategory: string(meta.Category),
			metaArchived: strconv.FormatBool(meta.Archived),
		},
	}

	return guard(ctx, "upsert", id, func() error {
		x.mu.Lock()
		defer x.mu.Unlock()
		// AddDocument replaces an existing document with the same id
		return x.col.AddDocument(ctx, doc)
	})
}

func (x *ChromemIndex) Delete(ctx context.Context, id string) error {
	return guard(ctx, "delete", id, func() error {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.col.Delete(ctx, nil, nil, id)
	})
}

func (x *ChromemIndex) Search(ctx context.Context, vec []float32, topK int, f Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	if err := checkVector(vec); err != nil {
		return nil, goerr.Wrap(err, "search rejected")
	}

	var hits []Hit
	err := guard(ctx, "search", "", func() error {
		// writers take the exclusive lock, so Count holds until the query runs
		x.mu.RLock()
		defer x.mu.RUnlock()

		// chromem rejects nResults larger than the collection
		n := min(topK, x.col.Count())
		if n == 0 {
			return nil
		}
		results, err := x.col.QueryEmbedding(ctx, vec, n, f.where(), nil)
		if err != nil {
			return err
		}
		for _, r := range results {
			hits = append(hits, Hit{ID: r.ID, Similarity: float64(r.Similarity)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func (x *ChromemIndex) Count() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.col.Count()
}

// Reset removes every vector. Used before a rebuild from the structured store.
func (x *ChromemIndex) Reset(ctx context.Context) error {
	return guard(ctx, "reset", "", func() error {
		x.mu.Lock()
		defer x.mu.Unlock()
		if x.col.Count() == 0 {
			return nil
		}
		if err := x.col.Delete(ctx, map[string]string{metaKind: kindMemory}, nil); err != nil {
			return err
		}
		x.logger.Info("vector index reset")
		return nil
	})
}

// checkVector rejects vectors chromem cannot normalize.
func checkVector(vec []float32) error {
	if len(vec) == 0 {
		return goerr.New("empty vector", goerr.T(model.TagValidation))
	}
	var sum float64
	for i, x := range vec {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return goerr.New("non-finite vector component", goerr.V("index", i), goerr.T(model.TagValidation))
		}
		sum += f * f
	}
	if sum == 0 {
		return goerr.New("zero-norm vector", goerr.V("dims", len(vec)), goerr.T(model.TagValidation))
	}
	return nil
}

// guard runs fn but stops waiting once ctx is done. Both a backend error and
// an expired deadline are reported as index unavailability.
func guard(ctx context.Context, op, id string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return goerr.Wrap(err, "vector index "+op+" skipped", goerr.V("id", id), goerr.T(model.TagIndexUnavailable))
	}

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return goerr.Wrap(err, "vector index "+op+" failed", goerr.V("id", id), goerr.T(model.TagIndexUnavailable))
		}
		return nil
	case <-ctx.Done():
		return goerr.Wrap(ctx.Err(), "vector index "+op+" timed out", goerr.V("id", id), goerr.T(model.TagIndexUnavailable))
	}
}
