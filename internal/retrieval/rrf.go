package retrieval

import (
	"sort"

	"github.com/rcliao/layered-memory/internal/model"
)

// List is one ranked input to Fuse. Records are in rank order, best first.
type List struct {
	Weight  float64
	Records []model.Memory
}

// Ranked is a fused result. Ranks are 1-indexed; 0 means the record was not
// in that list.
type Ranked struct {
	model.Memory
	Score        float64 `json:"score"`
	KeywordRank  int     `json:"keyword_rank,omitempty"`
	SemanticRank int     `json:"semantic_rank,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
}

// Fuse merges the keyword and semantic rankings with weighted reciprocal rank
// fusion: a record at rank r of a list contributes weight/(k+r). Lists with
// zero weight contribute nothing, so their records only appear if the other
// list also has them. Ties are broken by importance, then recency, then id.
func Fuse(k float64, keyword, semantic List) []Ranked {
	byID := make(map[string]*Ranked)
	var order []string

	add := func(l List, setRank func(*Ranked, int)) {
		if l.Weight <= 0 {
			return
		}
		seen := make(map[string]bool, len(l.Records))
		for i, m := range l.Records {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			rank := i + 1

			r, ok := byID[m.ID]
			if !ok {
				r = &Ranked{Memory: m}
				byID[m.ID] = r
				order = append(order, m.ID)
			}
			r.Score += l.Weight / (k + float64(rank))
			setRank(r, rank)
		}
	}
	add(keyword, func(r *Ranked, rank int) { r.KeywordRank = rank })
	add(semantic, func(r *Ranked, rank int) { r.SemanticRank = rank })

	out := make([]Ranked, 0, len(order))
	for _, id := range order {
		if r := byID[id]; r.Score > 0 {
			out = append(out, *r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
