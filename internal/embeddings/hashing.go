package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashingDimension is the vector size of the hashing embedder.
const DefaultHashingDimension = 256

// hashingBias keeps vectors of empty or stopword-only text non-zero so
// cosine similarity is always defined.
const hashingBias = 0.01

// HashingEmbedder maps text to a fixed-size vector by feature hashing of
// lowercase word tokens. It needs no model download and is deterministic,
// which makes it suitable for offline deployments and tests. Similarity
// reflects shared vocabulary only.
type HashingEmbedder struct {
	dimension int
}

// NewHashingEmbedder creates a hashing embedder. A dimension below 2 selects
// DefaultHashingDimension.
func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension < 2 {
		dimension = DefaultHashingDimension
	}
	return &HashingEmbedder{dimension: dimension}
}

// EmbedDocuments embeds each text.
func (h *HashingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds one text. Queries and documents share one space.
func (h *HashingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

// Dimension returns the vector size.
func (h *HashingEmbedder) Dimension() int { return h.dimension }

// Close is a no-op.
func (h *HashingEmbedder) Close() error { return nil }

func (h *HashingEmbedder) embed(text string) []float32 {
	vec := make([]float64, h.dimension)
	vec[0] = hashingBias

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		f := fnv.New64a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum64()
		// slot 0 is reserved for the bias
		idx := 1 + int(sum%uint64(h.dimension-1))
		sign := 1.0
		if sum>>63 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, h.dimension)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}
