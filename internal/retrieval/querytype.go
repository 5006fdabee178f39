package retrieval

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/model"
)

// QueryType selects how keyword and semantic rankings are blended.
type QueryType string

const (
	KeywordOnly  QueryType = "keyword_only"
	SemanticOnly QueryType = "semantic_only"
	Factual      QueryType = "factual"
	Conceptual   QueryType = "conceptual"
	Complex      QueryType = "complex"
	Ambiguous    QueryType = "ambiguous"
)

// Weights are the per-list multipliers used by Fuse.
type Weights struct {
	Keyword  float64 `json:"keyword"`
	Semantic float64 `json:"semantic"`
}

var weightTable = map[QueryType]Weights{
	KeywordOnly:  {Keyword: 1.0, Semantic: 0.0},
	SemanticOnly: {Keyword: 0.0, Semantic: 1.0},
	Factual:      {Keyword: 0.8, Semantic: 0.2},
	Conceptual:   {Keyword: 0.2, Semantic: 0.8},
	Complex:      {Keyword: 0.5, Semantic: 0.5},
	Ambiguous:    {Keyword: 0.3, Semantic: 0.7},
}

// keywordFallback replaces the table weights when the semantic side is
// unavailable.
var keywordFallback = Weights{Keyword: 1.0}

// Weights returns the blend for q. Unknown values get the Complex blend.
func (q QueryType) Weights() Weights {
	if w, ok := weightTable[q]; ok {
		return w
	}
	return weightTable[Complex]
}

// QueryTypes lists every query type in a stable order.
func QueryTypes() []QueryType {
	return []QueryType{KeywordOnly, SemanticOnly, Factual, Conceptual, Complex, Ambiguous}
}

// ParseQueryType accepts the snake_case names, case-insensitively. The empty
// string selects Complex.
func ParseQueryType(s string) (QueryType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Complex, nil
	}
	q := QueryType(s)
	if _, ok := weightTable[q]; !ok {
		return "", goerr.New("unknown query type",
			goerr.V("query_type", s), goerr.V("valid", QueryTypes()), goerr.T(model.TagValidation))
	}
	return q, nil
}
