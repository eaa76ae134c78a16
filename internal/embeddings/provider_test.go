package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{})
	require.NoError(t, err)
	assert.IsType(t, &HashingEmbedder{}, p)
	assert.Equal(t, DefaultHashingDimension, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-base-en-v1.5"})
	require.NoError(t, err)
	assert.Equal(t, 768, p.Dimension())
	assert.NoError(t, p.Close())

	_, err = NewProvider(ProviderConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectDimensionFromModel(t *testing.T) {
	assert.Equal(t, 384, detectDimensionFromModel("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 768, detectDimensionFromModel("acme/encoder-base"))
	assert.Equal(t, 1024, detectDimensionFromModel("acme/encoder-large"))
	assert.Equal(t, 384, detectDimensionFromModel("unknown"))
}

func TestHashingEmbedder(t *testing.T) {
	h := NewHashingEmbedder(128)
	ctx := context.Background()

	docs, err := h.EmbedDocuments(ctx, []string{
		"Approve the invoice workflow",
		"approve INVOICE workflow!",
		"quarterly budget review",
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, v := range docs {
		assert.Len(t, v, 128)
		assert.InDelta(t, 1.0, cosine(v, v), 1e-6, "vectors are unit length")
	}

	assert.Greater(t, cosine(docs[0], docs[1]), 0.8)
	assert.Less(t, cosine(docs[0], docs[2]), 0.5)

	q, err := h.EmbedQuery(ctx, "approve the invoice workflow")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, cosine(q, docs[0]), 1e-6, "case and punctuation are ignored")

	empty, err := h.EmbedQuery(ctx, "")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, float64(empty[0]), 1e-6, "empty text keeps the bias")

	_, err = h.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = h.EmbedQuery(canceled, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHashingEmbedder_Deterministic(t *testing.T) {
	a, err := NewHashingEmbedder(0).EmbedQuery(context.Background(), "employee onboarding plan")
	require.NoError(t, err)
	b, err := NewHashingEmbedder(0).EmbedQuery(context.Background(), "employee onboarding plan")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
