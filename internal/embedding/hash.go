package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic, offline embedder. Each word is hashed into
// one of dims buckets with a hash-derived sign, so texts sharing words have
// positive cosine similarity and identical texts score 1.
type HashEmbedder struct {
	dims int
}

func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{dims: dims}
}

func (e *HashEmbedder) Dims() int { return e.dims }

func (e *HashEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err, "hash embed cancelled")
	}

	v := make(Vector, e.dims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		// punctuation-only text still needs a non-zero vector
		words = []string{text}
	}
	for _, w := range words {
		idx, neg := e.bucket(w)
		if neg {
			v[idx]--
		} else {
			v[idx]++
		}
	}
	if isZero(v) {
		// signed buckets cancelled out; fall back to the whole text so the
		// vector can still be normalized
		idx, _ := e.bucket(strings.Join(words, " "))
		v[idx] = 1
	}
	return Normalize(v), nil
}

func (e *HashEmbedder) bucket(word string) (int, bool) {
	h := fnv.New64a()
	h.Write([]byte(word))
	sum := h.Sum64()
	return int(sum % uint64(e.dims)), sum&(1<<63) != 0
}

func isZero(v Vector) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
