// Package retrieval answers hybrid recall queries: a keyword scan of the
// structured store and a semantic scan of the vector index run in parallel
// and are merged with weighted reciprocal rank fusion.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/embedding"
	"github.com/rcliao/layered-memory/internal/logging"
	"github.com/rcliao/layered-memory/internal/model"
	"github.com/rcliao/layered-memory/internal/store"
	"github.com/rcliao/layered-memory/internal/vector"
)

const DefaultTopK = 5

// Degradation reasons reported on Result.
const (
	ReasonDisabled             = "semantic search disabled"
	ReasonTimeout              = "semantic search timed out"
	ReasonIndexUnavailable     = "vector index unavailable"
	ReasonEmbeddingUnavailable = "embedding unavailable"
	ReasonSemanticFailed       = "semantic search failed"
)

// Searcher is the part of the structured store retrieval reads from.
type Searcher interface {
	KeywordSearch(ctx context.Context, p store.KeywordParams) ([]model.Memory, error)
	GetByIDs(ctx context.Context, ids []string, includeArchived bool) (map[string]model.Memory, error)
}

type Params struct {
	Query           string
	TopK            int
	Category        model.Category
	QueryType       QueryType
	Threshold       float64
	IncludeArchived bool
}

type Result struct {
	Query          string    `json:"query"`
	QueryType      QueryType `json:"query_type"`
	Weights        Weights   `json:"weights"`
	Records        []Ranked  `json:"records"`
	Degraded       bool      `json:"degraded"`
	DegradedReason string    `json:"degraded_reason,omitempty"`
}

// Service runs hybrid queries. A nil index or embedder disables the semantic
// side; every query then degrades to keyword ranking.
type Service struct {
	store    Searcher
	index    vector.Index
	embedder embedding.Embedder
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

func New(st Searcher, index vector.Index, embedder embedding.Embedder, cfg config.RetrievalConfig, logger *slog.Logger) *Service {
	if cfg.RRFK <= 0 {
		cfg.RRFK = config.DefaultRRFK
	}
	if cfg.SemanticTimeout <= 0 {
		cfg.SemanticTimeout = config.DefaultSemanticTimeout
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = config.DefaultCandidateLimit
	}
	return &Service{
		store:    st,
		index:    index,
		embedder: embedder,
		cfg:      cfg,
		logger:   logging.Component(logger, "retrieval"),
	}
}

func (s *Service) Search(ctx context.Context, p Params) (*Result, error) {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		return nil, goerr.New("query is required", goerr.T(model.TagValidation))
	}
	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return nil, goerr.New("similarity threshold must be within [0, 1]",
			goerr.V("threshold", p.Threshold), goerr.T(model.TagValidation))
	}
	if p.TopK <= 0 {
		p.TopK = DefaultTopK
	}
	if p.QueryType == "" {
		p.QueryType = Complex
	}
	weights := p.QueryType.Weights()
	// each list must be able to fill topK on its own
	limit := max(s.cfg.CandidateLimit, p.TopK)

	var (
		wg       sync.WaitGroup
		keyword  []model.Memory
		kwErr    error
		semantic []scored
		semErr   error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		keyword, kwErr = s.store.KeywordSearch(ctx, store.KeywordParams{
			Query:           p.Query,
			Category:        p.Category,
			IncludeArchived: p.IncludeArchived,
			Limit:           limit,
		})
	}()

	if weights.Semantic > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			semantic, semErr = s.semanticScan(ctx, p, limit)
		}()
	}
	wg.Wait()

	if kwErr != nil {
		return nil, kwErr
	}

	res := &Result{Query: p.Query, QueryType: p.QueryType, Weights: weights}
	if semErr != nil {
		res.Degraded = true
		res.DegradedReason = degradedReason(semErr)
		res.Weights = keywordFallback
		semantic = nil
		s.logger.Warn("recall degraded to keyword ranking",
			"query_type", p.QueryType, "reason", res.DegradedReason, "error", semErr)
	}

	semList := List{Weight: res.Weights.Semantic, Records: make([]model.Memory, len(semantic))}
	similarity := make(map[string]float64, len(semantic))
	for i, sc := range semantic {
		semList.Records[i] = sc.mem
		similarity[sc.mem.ID] = sc.similarity
	}

	fused := Fuse(s.cfg.RRFK, List{Weight: res.Weights.Keyword, Records: keyword}, semList)
	if len(fused) > p.TopK {
		fused = fused[:p.TopK]
	}
	for i := range fused {
		fused[i].Similarity = similarity[fused[i].ID]
	}
	res.Records = fused
	return res, nil
}

type scored struct {
	mem        model.Memory
	similarity float64
}

var errSemanticDisabled = goerr.New(ReasonDisabled, goerr.T(model.TagEmbeddingUnavailable))

// semanticScan embeds the query, searches the index and hydrates hits from
// the structured store so records deleted or archived since their last sync
// are dropped. The whole scan is bounded by SemanticTimeout even when the
// backend ignores its context.
func (s *Service) semanticScan(ctx context.Context, p Params, limit int) ([]scored, error) {
	if s.index == nil || s.embedder == nil {
		return nil, errSemanticDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SemanticTimeout)
	defer cancel()

	type outcome struct {
		hits []scored
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		hits, err := s.semantic(ctx, p, limit)
		done <- outcome{hits, err}
	}()

	select {
	case o := <-done:
		return o.hits, o.err
	case <-ctx.Done():
		return nil, goerr.Wrap(ctx.Err(), "semantic scan", goerr.V("timeout", s.cfg.SemanticTimeout))
	}
}

func (s *Service) semantic(ctx context.Context, p Params, limit int) ([]scored, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, p.Query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vec, limit, vector.Filter{
		Category:        p.Category,
		IncludeArchived: p.IncludeArchived,
	})
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, h := range hits {
		if h.Similarity >= p.Threshold {
			ids = append(ids, h.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}

	recs, err := s.store.GetByIDs(ctx, ids, p.IncludeArchived)
	if err != nil {
		return nil, err
	}

	out := make([]scored, 0, len(ids))
	for _, h := range hits {
		m, ok := recs[h.ID]
		if !ok || h.Similarity < p.Threshold {
			continue
		}
		if p.Category != "" && m.Category != p.Category {
			continue
		}
		out = append(out, scored{mem: m, similarity: h.Similarity})
	}
	s.logger.Debug("semantic scan", "hits", len(hits), "kept", len(out), "elapsed", time.Since(start))
	return out, nil
}

func degradedReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, errSemanticDisabled):
		return ReasonDisabled
	case model.IsIndexUnavailable(err):
		return ReasonIndexUnavailable
	case model.IsEmbeddingUnavailable(err):
		return ReasonEmbeddingUnavailable
	default:
		return ReasonSemanticFailed
	}
}
