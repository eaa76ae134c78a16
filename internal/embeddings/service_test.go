package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTEIServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var req struct {
			Inputs json.RawMessage `json:"inputs"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}

		var batch []string
		if err := json.Unmarshal(req.Inputs, &batch); err != nil {
			var single string
			assert.NoError(t, json.Unmarshal(req.Inputs, &single))
			batch = []string{single}
		}
		out := make([][]float32, len(batch))
		for i, text := range batch {
			out[i] = []float32{float32(len(text)), 1}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewService(t *testing.T) {
	_, err := NewService(Config{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	svc, err := NewService(Config{BaseURL: "http://localhost:8080/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", svc.config.BaseURL)
}

func TestService_Embed(t *testing.T) {
	srv := newTEIServer(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL, Model: "BAAI/bge-small-en-v1.5"})
	require.NoError(t, err)
	ctx := context.Background()

	docs, err := svc.EmbedDocuments(ctx, []string{"ab", "abcd"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, docs)

	q, err := svc.EmbedQuery(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 1}, q)

	_, err = svc.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = svc.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_ServerError(t *testing.T) {
	srv := newTEIServer(t, http.StatusServiceUnavailable)
	svc, err := NewService(Config{BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "status 503")
}
