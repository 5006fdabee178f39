// Package store is the authoritative structured store for memories and the
// sync ledger that tracks their vector projection.
package store

import (
	"context"
	"time"

	"github.com/rcliao/layered-memory/internal/model"
)

// InsertParams holds parameters for storing a memory. Category and importance
// are expected to be resolved by the caller; an empty category is stored as
// general.
type InsertParams struct {
	Content    string
	Category   model.Category
	Importance float64
	Tags       []string
}

// Order selects the sort order of filtered listings.
type Order int

const (
	OrderCreated Order = iota
	OrderImportance
)

// FilterParams holds parameters for attribute queries. Zero values disable
// the corresponding filter; Limit 0 means unbounded.
type FilterParams struct {
	Category        model.Category
	MinImportance   float64
	Since           time.Time
	Tags            []string
	IncludeArchived bool
	Limit           int
	OrderBy         Order
}

// PatternParams holds parameters for case-insensitive substring matching.
type PatternParams struct {
	Pattern         string
	Category        model.Category
	IncludeArchived bool
	Limit           int
}

// KeywordParams holds parameters for keyword-ranked search.
type KeywordParams struct {
	Query           string
	Category        model.Category
	IncludeArchived bool
	Limit           int
}

// Store defines the record operations of the structured store.
type Store interface {
	Insert(ctx context.Context, p InsertParams) (*model.Memory, error)
	Import(ctx context.Context, mems []model.Memory) (int, error)
	ExportAll(ctx context.Context, category model.Category) ([]model.Memory, error)
	GetByID(ctx context.Context, id string) (*model.Memory, error)
	GetByIDs(ctx context.Context, ids []string, includeArchived bool) (map[string]model.Memory, error)
	FindByPattern(ctx context.Context, p PatternParams) ([]model.Memory, error)
	FindByFilter(ctx context.Context, p FilterParams) ([]model.Memory, error)
	KeywordSearch(ctx context.Context, p KeywordParams) ([]model.Memory, error)
	Archive(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	UpdateAccess(ctx context.Context, id string) error
	Stats(ctx context.Context) (*Stats, error)

	Ledger

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
