// Package model defines the core memory data types.
package model

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Memory is one remembered fact. Content never changes after insert;
// archival and access bookkeeping are the only mutations.
type Memory struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	Category       Category   `json:"category"`
	Importance     float64    `json:"importance"`
	Tags           []string   `json:"tags,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	AccessCount    int        `json:"access_count"`
	Archived       bool       `json:"archived"`
	SyncState      SyncState  `json:"sync_state"`
}

// Category is the coarse semantic bucket of a memory.
type Category string

const (
	CategoryPersonal   Category = "personal"
	CategoryPreference Category = "preference"
	CategoryWork       Category = "work"
	CategoryContact    Category = "contact"
	CategoryGoal       Category = "goal"
	CategorySchedule   Category = "schedule"
	CategoryGeneral    Category = "general"
)

// ValidCategories are the allowed memory categories.
var ValidCategories = map[Category]bool{
	CategoryPersonal:   true,
	CategoryPreference: true,
	CategoryWork:       true,
	CategoryContact:    true,
	CategoryGoal:       true,
	CategorySchedule:   true,
	CategoryGeneral:    true,
}

// Categories lists every category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryPersonal,
		CategoryPreference,
		CategoryWork,
		CategoryContact,
		CategoryGoal,
		CategorySchedule,
		CategoryGeneral,
	}
}

// ParseCategory accepts a category name case-insensitively. An empty string
// yields the empty category, meaning "not specified".
func ParseCategory(s string) (Category, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	c := Category(s)
	if !ValidCategories[c] {
		return "", goerr.New("unknown category", goerr.V("category", s), goerr.T(TagValidation))
	}
	return c, nil
}

// SyncState tracks whether the vector projection of a memory is current.
type SyncState string

const (
	SyncPending SyncState = "pending"
	SyncSynced  SyncState = "synced"
	SyncFailed  SyncState = "failed"
)

// ClampImportance bounds an importance score to [0, 1].
func ClampImportance(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// ValidateImportance rejects values that cannot be clamped meaningfully.
func ValidateImportance(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return goerr.New("importance must be a finite number", goerr.V("importance", v), goerr.T(TagValidation))
	}
	return nil
}

// NormalizeTags trims, dedupes and sorts tags. Tags form a set.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
