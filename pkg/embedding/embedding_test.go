package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-koma/knowledge/pkg/komaerr"
)

func TestEmbedOllamaEmbeddingsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embeddings: [][]float32{{1, 2}, {3, 4}}})
	}))
	defer srv.Close()

	c := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, Model: "m", Dimension: 2})
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, vecs)
}

func TestEmbedOllamaSingletonEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 2}})
	}))
	defer srv.Close()

	c := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, Model: "m"})
	vecs, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, vecs)
}

func TestEmbedOpenRouterSortsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(openRouterResponse{Data: []openRouterEmbedding{
			{Index: 1, Embedding: []float32{3, 4}},
			{Index: 0, Embedding: []float32{1, 2}},
		}})
	}))
	defer srv.Close()

	c := New(Config{Provider: ProviderOpenRouter, BaseURL: srv.URL, Model: "m", APIKey: "secret"})
	vecs, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}, {3, 4}}, vecs)
}

func TestEmbedDimMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 2, 3}})
	}))
	defer srv.Close()

	c := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, Model: "m", Dimension: 2})
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, komaerr.Is(err, komaerr.KindEmbeddingDimMismatch))
}

func TestEmbedBatchesRespectBatchSize(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req ollamaRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = []float32{float32(i)}
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embeddings: vecs})
	}))
	defer srv.Close()

	c := New(Config{Provider: ProviderOllama, BaseURL: srv.URL, Model: "m", BatchSize: 2})
	inputs := []string{"a", "b", "c", "d", "e"}
	vecs, err := c.EmbedBatch(context.Background(), inputs)
	require.NoError(t, err)
	assert.Len(t, vecs, 5)
	assert.Equal(t, 3, calls)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := New(Config{Provider: ProviderOllama, BaseURL: "http://unused"})
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestEmbedOpenRouterMissingKey(t *testing.T) {
	c := New(Config{Provider: ProviderOpenRouter, BaseURL: "http://unused", Model: "m"})
	_, err := c.EmbedBatch(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, komaerr.Is(err, komaerr.KindEmbedding))
}
