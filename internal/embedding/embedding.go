// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"context"
	"math"
	"os"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/layered-memory/internal/chunker"
	"github.com/rcliao/layered-memory/internal/config"
	"github.com/rcliao/layered-memory/internal/model"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. Implementations report
// provider failures tagged with model.TagEmbeddingUnavailable.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
	Dims() int
}

// Normalize scales v to unit length in place. Zero vectors are left alone.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

// EmbedDocument embeds content that may exceed the model's input size. The
// content is split into windows of at most maxRunes and the window vectors
// are averaged and normalized.
func EmbedDocument(ctx context.Context, e Embedder, text string, maxRunes int) (Vector, error) {
	windows := chunker.Split(text, maxRunes)
	if len(windows) <= 1 {
		return e.Embed(ctx, text)
	}

	var sum []float64
	for i, w := range windows {
		v, err := e.Embed(ctx, w)
		if err != nil {
			return nil, goerr.Wrap(err, "embed window", goerr.V("window", i), goerr.V("windows", len(windows)))
		}
		if sum == nil {
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			return nil, goerr.New("embedding dimension changed between windows",
				goerr.V("want", len(sum)), goerr.V("got", len(v)), goerr.T(model.TagEmbeddingUnavailable))
		}
		for j, x := range v {
			sum[j] += float64(x)
		}
	}

	out := make(Vector, len(sum))
	for j, x := range sum {
		out[j] = float32(x / float64(len(windows)))
	}
	return Normalize(out), nil
}

// NewFromConfig builds the configured embedder. Provider "none" returns a nil
// Embedder, which disables semantic search. A positive CacheEntries wraps the
// provider in a Cached embedder.
func NewFromConfig(cfg config.EmbeddingConfig) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "hash":
		e = NewHashEmbedder(cfg.Dims)
	case "ollama":
		name := cfg.Model
		if name == "" {
			name = "nomic-embed-text"
		}
		url := cfg.URL
		if url == "" {
			url = os.Getenv("OLLAMA_HOST")
		}
		e = NewOllamaEmbedder(url, name, cfg.Timeout)
	case "openai":
		e = NewOpenAIEmbedder(cfg.URL, cfg.APIKey, cfg.Model, cfg.Dims, cfg.Timeout)
	default:
		return nil, goerr.New("unknown embedding provider", goerr.V("provider", cfg.Provider), goerr.T(model.TagValidation))
	}

	if cfg.CacheEntries > 0 {
		return NewCached(e, cfg.CacheEntries)
	}
	return e, nil
}
