package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicEmbedderStableAndNormalized(t *testing.T) {
	e := NewDeterministic(16, true)
	v1, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	v2, err := e.EmbedBatch(context.Background(), []string{"hello world"})
	require.NoError(t, err)
	assert.Equal(t, v1, v2)

	var norm float64
	for _, x := range v1[0] {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, norm, 0.01)
	assert.Equal(t, 16, e.Dimension())
}

func TestDeterministicEmbedderBatch(t *testing.T) {
	e := NewDeterministic(8, false)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, out, 3)
	for _, v := range out {
		assert.Len(t, v, 8)
	}
}

func TestHTTPEmbedderCallsEndpoint(t *testing.T) {
	var gotReq embedReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		resp := embedResp{}
		for range gotReq.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
			}{Embedding: []float32{1, 2, 3}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	e := NewHTTP(Config{
		BaseURL:   srv.URL,
		Path:      "/embed",
		APIKey:    "secret",
		Model:     "test-model",
		Dimension: 3,
		BatchSize: 2,
	})
	out, err := e.EmbedBatch(context.Background(), []string{"x", "y", "z"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []float32{1, 2, 3}, out[0])
	assert.Equal(t, "test-model", e.ModelID())
	assert.Equal(t, 3, e.Dimension())
}

func TestHTTPEmbedderBatchSizeMismatchErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embedResp{})
	}))
	defer srv.Close()

	e := NewHTTP(Config{BaseURL: srv.URL, Path: "/embed"})
	_, err := e.EmbedBatch(context.Background(), []string{"only one"})
	assert.Error(t, err)
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "a b c", truncateWords("a b c", 10))
	assert.Equal(t, "a b", truncateWords("a b c", 2))
}

func TestAcquireReleaseSingleton(t *testing.T) {
	defer Release()
	calls := 0
	factory := func() Embedder {
		calls++
		return NewDeterministic(4, false)
	}
	e1 := Acquire(factory)
	e2 := Acquire(factory)
	assert.Same(t, e1, e2)
	assert.Equal(t, 1, calls)

	require.NoError(t, Release())
	e3 := Acquire(factory)
	assert.Equal(t, 2, calls)
	_ = e3
}
