package retrieval_test

import (
	"math"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/retrieval"
)

func mem(id string, importance float64, created time.Time) model.Memory {
	return model.Memory{ID: id, Importance: importance, CreatedAt: created}
}

func ids(rs []retrieval.Ranked) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestFuseScores(t *testing.T) {
	now := time.Now()
	a, b, c := mem("a", 0.5, now), mem("b", 0.5, now), mem("c", 0.5, now)

	got := retrieval.Fuse(60,
		retrieval.List{Weight: 0.5, Records: []model.Memory{a, b}},
		retrieval.List{Weight: 0.5, Records: []model.Memory{b, c}},
	)
	gt.Equal(t, ids(got), []string{"b", "a", "c"})

	gt.True(t, math.Abs(got[0].Score-(0.5/62+0.5/61)) < 1e-12)
	gt.True(t, math.Abs(got[1].Score-0.5/61) < 1e-12)
	gt.True(t, math.Abs(got[2].Score-0.5/62) < 1e-12)
	gt.Equal(t, got[0].KeywordRank, 2)
	gt.Equal(t, got[0].SemanticRank, 1)
	gt.Equal(t, got[2].KeywordRank, 0)
}

func TestFuseZeroWeightListIgnored(t *testing.T) {
	now := time.Now()
	a, b := mem("a", 0.5, now), mem("b", 0.9, now)

	got := retrieval.Fuse(60,
		retrieval.List{Weight: 1, Records: []model.Memory{a}},
		retrieval.List{Weight: 0, Records: []model.Memory{b, a}},
	)
	gt.Equal(t, ids(got), []string{"a"})
	gt.Equal(t, got[0].SemanticRank, 0)
}

func TestFuseTieBreak(t *testing.T) {
	now := time.Now()
	older := mem("x", 0.5, now.Add(-time.Hour))
	newer := mem("y", 0.5, now)
	heavy := mem("z", 0.9, now.Add(-2*time.Hour))
	same1 := mem("m2", 0.5, now)
	same2 := mem("m1", 0.5, now)

	// each record is rank 1 of exactly one list, so every score is equal
	got := retrieval.Fuse(60,
		retrieval.List{Weight: 1, Records: []model.Memory{older}},
		retrieval.List{Weight: 1, Records: []model.Memory{newer}},
	)
	gt.Equal(t, ids(got), []string{"y", "x"})

	got = retrieval.Fuse(60,
		retrieval.List{Weight: 1, Records: []model.Memory{newer}},
		retrieval.List{Weight: 1, Records: []model.Memory{heavy}},
	)
	gt.Equal(t, ids(got), []string{"z", "y"})

	got = retrieval.Fuse(60,
		retrieval.List{Weight: 1, Records: []model.Memory{same1}},
		retrieval.List{Weight: 1, Records: []model.Memory{same2}},
	)
	gt.Equal(t, ids(got), []string{"m1", "m2"})
}

func TestFuseDuplicateInListCountsOnce(t *testing.T) {
	a := mem("a", 0.5, time.Now())
	got := retrieval.Fuse(60,
		retrieval.List{Weight: 1, Records: []model.Memory{a, a}},
		retrieval.List{},
	)
	gt.A(t, got).Length(1)
	gt.True(t, math.Abs(got[0].Score-1.0/61) < 1e-12)
}

func TestQueryTypeWeights(t *testing.T) {
	cases := map[retrieval.QueryType]retrieval.Weights{
		retrieval.KeywordOnly:  {Keyword: 1, Semantic: 0},
		retrieval.SemanticOnly: {Keyword: 0, Semantic: 1},
		retrieval.Factual:      {Keyword: 0.8, Semantic: 0.2},
		retrieval.Conceptual:   {Keyword: 0.2, Semantic: 0.8},
		retrieval.Complex:      {Keyword: 0.5, Semantic: 0.5},
		retrieval.Ambiguous:    {Keyword: 0.3, Semantic: 0.7},
	}
	for q, want := range cases {
		gt.Equal(t, q.Weights(), want)
	}
	gt.A(t, retrieval.QueryTypes()).Length(len(cases))
}

func TestParseQueryType(t *testing.T) {
	q, err := retrieval.ParseQueryType("")
	gt.NoError(t, err)
	gt.Equal(t, q, retrieval.Complex)

	q, err = retrieval.ParseQueryType(" Semantic_Only ")
	gt.NoError(t, err)
	gt.Equal(t, q, retrieval.SemanticOnly)

	_, err = retrieval.ParseQueryType("fuzzy")
	gt.Error(t, err)
	gt.True(t, model.IsValidation(err))
}
