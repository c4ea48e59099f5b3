package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseqa/internal/domain"
)

type embeddingItem struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Model: "bge-m3"})
	require.NoError(t, err)
	return c, srv
}

func writeData(w http.ResponseWriter, items []embeddingItem) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": "bge-m3", "data": items})
}

func TestEmbedSendsOneRequestAndKeepsOrder(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)
		assert.Equal(t, []string{"first", "second"}, req.Input)
		// Out of order on purpose.
		writeData(w, []embeddingItem{
			{Object: "embedding", Index: 1, Embedding: []float32{0, 1}},
			{Object: "embedding", Index: 0, Embedding: []float32{1, 0}},
		})
	})

	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	assert.Equal(t, 2, c.Dimension())
	assert.Equal(t, "bge-m3", c.Model())
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	_, err := c.Embed(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = c.Embed(context.Background(), []string{"ok", "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEmbedInvalidResponses(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data": [`))
		}},
		{"wrong field type", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"data": "nope"}`))
		}},
		{"missing vectors", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, nil)
		}},
		{"empty vector", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, []embeddingItem{{Index: 0}, {Index: 1, Embedding: []float32{1}}})
		}},
		{"duplicate index", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, []embeddingItem{{Index: 0, Embedding: []float32{1}}, {Index: 0, Embedding: []float32{1}}})
		}},
		{"ragged vectors", func(w http.ResponseWriter, r *http.Request) {
			writeData(w, []embeddingItem{{Index: 0, Embedding: []float32{1}}, {Index: 1, Embedding: []float32{1, 2}}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.handler)
			vecs, err := c.Embed(context.Background(), []string{"a", "b"})
			assert.ErrorIs(t, err, domain.ErrProviderResponseInvalid)
			assert.Nil(t, vecs)
		})
	}
}

func TestEmbedDimensionChangeIsInvalid(t *testing.T) {
	var dim atomic.Int32
	dim.Store(2)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeData(w, []embeddingItem{{Index: 0, Embedding: make([]float32, dim.Load())}})
	})

	_, err := c.Embed(context.Background(), []string{"a"})
	require.NoError(t, err)
	dim.Store(3)
	_, err = c.Embed(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, domain.ErrProviderResponseInvalid)
}

func TestEmbedUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		})
		_, err := c.Embed(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("api error", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
		})
		_, err := c.Embed(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("connection refused", func(t *testing.T) {
		c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
		srv.Close()
		_, err := c.Embed(context.Background(), []string{"a"})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})

	t.Run("cancelled", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeData(w, []embeddingItem{{Index: 0, Embedding: []float32{1}}})
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.Embed(ctx, []string{"a"})
		assert.ErrorIs(t, err, domain.ErrProviderUnavailable)
	})
}

func TestNewClientRequiresModel(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "http://localhost:1"})
	assert.Error(t, err)
}
