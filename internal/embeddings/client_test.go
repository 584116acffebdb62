package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/axonhq/axon/internal/httpx"
)

func testHTTP() *httpx.Client {
	return httpx.New(httpx.Config{
		TimeoutPerAttempt: time.Second,
		MaxRetries:        1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          time.Millisecond,
	}, nil)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, BatchSize: 2, MaxConcurrentBatches: 2}, testHTTP(), nil)
	require.NoError(t, err)
	return c
}

func TestInfoParsesLowercaseModelType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/info", r.URL.Path)
		fmt.Fprint(w, `{"model_id": "bge-small", "model_type": {"embedding": {"dim": 384}}, "max_input_length": 512}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bge-small", info.ModelID)
	assert.Equal(t, 384, info.Dimension)
	assert.Equal(t, 512, info.MaxInputLength)
}

func TestInfoParsesUppercaseModelType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model_id": "bge-base", "model_type": {"Embedding": {"dim": 768}}, "max_input_length": 512}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 768, info.Dimension)
}

func TestInfoCachedAfterFirstSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"model_id": "m", "model_type": {"embedding": {"dim": 4}}, "max_input_length": 512}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.NoError(t, err)
	_, err = c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestInfoFailureIsNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"model_id": "m", "model_type": {"embedding": {"dim": 4}}, "max_input_length": 512}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Info(context.Background())
	require.Error(t, err)

	info, err := c.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, info.Dimension)
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vectors := make([][]float32, len(req.Inputs))
		for i, text := range req.Inputs {
			vectors[i] = []float32{float32(len(text))}
		}
		json.NewEncoder(w).Encode(vectors)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vectors, err := c.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{1}, vectors[0])
	assert.Equal(t, []float32{2}, vectors[1])
	assert.Equal(t, []float32{3}, vectors[2])
}

func TestEmbedBatchShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[[1.0]]`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.EmbedBatch(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrShortResponse)
}

func TestEmbedChunksBatchesAndPreservesOrder(t *testing.T) {
	var batchCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		batchCalls.Add(1)
		var req struct {
			Inputs []string `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.LessOrEqual(t, len(req.Inputs), 2)
		vectors := make([][]float32, len(req.Inputs))
		for i, text := range req.Inputs {
			vectors[i] = []float32{float32(len(text))}
		}
		json.NewEncoder(w).Encode(vectors)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL) // batch size 2
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vectors, err := c.EmbedChunks(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, []float32{float32(len(text))}, vectors[i], "vector %d out of order", i)
	}
	assert.Equal(t, int32(3), batchCalls.Load())
}

func TestEmbedChunksFailsWholesale(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		var req struct {
			Inputs []string `json:"inputs"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		vectors := make([][]float32, len(req.Inputs))
		for i := range vectors {
			vectors[i] = []float32{0}
		}
		json.NewEncoder(w).Encode(vectors)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.EmbedChunks(context.Background(), []string{"a", "b", "c", "d"})
	require.Error(t, err)
}

func TestEmbedEmptyInput(t *testing.T) {
	c := newTestClient(t, "http://localhost:0")
	_, err := c.EmbedBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = c.EmbedChunks(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = c.EmbedQuery(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}
