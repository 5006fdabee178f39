// Package importance scores how much a memory matters, in [0, 1].
package importance

import (
	"regexp"
	"unicode/utf8"

	"github.com/rcliao/layered-memory/internal/model"
)

// Weights tunes the scorer. Every bonus is non-negative, which keeps the
// score monotonic: adding a marker or more content never lowers it.
type Weights struct {
	Baseline     map[model.Category]float64
	Default      float64
	Intent       float64 // "remember this", "don't forget"
	Emphasis     float64 // "important", "critical", "urgent"
	LongContent  float64
	LongRunes    int
	ShortPenalty float64
	ShortRunes   int
}

func DefaultWeights() Weights {
	return Weights{
		Baseline: map[model.Category]float64{
			model.CategoryContact:    0.7,
			model.CategoryPersonal:   0.6,
			model.CategorySchedule:   0.6,
			model.CategoryGoal:       0.6,
			model.CategoryPreference: 0.55,
			model.CategoryWork:       0.5,
			model.CategoryGeneral:    0.4,
		},
		Default:      0.4,
		Intent:       0.2,
		Emphasis:     0.15,
		LongContent:  0.05,
		LongRunes:    120,
		ShortPenalty: 0.1,
		ShortRunes:   12,
	}
}

var (
	intentRe   = regexp.MustCompile(`(?i)\b(?:remember (?:this|that)|don'?t forget|never forget|make sure|keep in mind|note that)\b`)
	emphasisRe = regexp.MustCompile(`(?i)\b(?:important|critical|crucial|urgent|essential|vital|must|always|never)\b|!{2,}`)
)

// Scorer is pure and safe for concurrent use.
type Scorer struct {
	w Weights
}

func New() *Scorer {
	return &Scorer{w: DefaultWeights()}
}

func NewWithWeights(w Weights) *Scorer {
	return &Scorer{w: w}
}

// Score combines the category baseline with intent, emphasis and length
// signals and clamps the result to [0, 1].
func (s *Scorer) Score(content string, category model.Category) float64 {
	score, ok := s.w.Baseline[category]
	if !ok {
		score = s.w.Default
	}
	if intentRe.MatchString(content) {
		score += s.w.Intent
	}
	if emphasisRe.MatchString(content) {
		score += s.w.Emphasis
	}

	n := utf8.RuneCountInString(content)
	switch {
	case n >= s.w.LongRunes:
		score += s.w.LongContent
	case n < s.w.ShortRunes:
		score -= s.w.ShortPenalty
	}
	return model.ClampImportance(score)
}
