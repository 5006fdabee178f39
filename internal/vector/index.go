// Package vector is the similarity index over memory embeddings. It is a
// derived projection of the structured store and can be rebuilt from it.
package vector

import (
	"context"

	"github.com/rcliao/layered-memory/internal/model"
)

// Metadata is stored alongside each vector so searches can filter without a
// round trip to the structured store.
type Metadata struct {
	Category model.Category
	Archived bool
}

// Filter narrows a search. The zero value matches active records of every
// category.
type Filter struct {
	Category        model.Category
	IncludeArchived bool
}

// where renders the filter as an exact-match metadata clause.
func (f Filter) where() map[string]string {
	w := map[string]string{metaKind: kindMemory}
	if !f.IncludeArchived {
		w[metaArchived] = "false"
	}
	if f.Category != "" {
		w[metaCategory] = string(f.Category)
	}
	return w
}

// Hit is one nearest-neighbour result.
type Hit struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Distance is the cosine distance, 1 - similarity.
func (h Hit) Distance() float64 { return 1 - h.Similarity }

// Index stores one vector per memory id. Every method honours the context
// deadline and reports failure with model.TagIndexUnavailable instead of
// blocking.
type Index interface {
	Upsert(ctx context.Context, id string, vec []float32, meta Metadata) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, vec []float32, topK int, f Filter) ([]Hit, error)
	Count() int
	Reset(ctx context.Context) error
}
