package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "text-embedding-3-small"}, zaptest.NewLogger(t))
}

func TestEmbedBatchOrdersByIndex(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)
		// Return out of order; the client must re-sort by index.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{"index": 1, "embedding": []float32{0.2}},
				{"index": 0, "embedding": []float32{0.1}},
			},
		})
	}))

	vectors, err := c.EmbedBatch(context.Background(), []string{"fen-a", "fen-b"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{0.1}, vectors[0])
	assert.Equal(t, []float32{0.2}, vectors[1])
}

func TestEmbedBatchCountMismatch(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"index": 0, "embedding": []float32{0.1}}},
		})
	}))

	_, err := c.EmbedBatch(context.Background(), []string{"fen-a", "fen-b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mismatch")
}

func TestEmbedBatchAPIError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"type": "rate_limit_error", "message": "slow down"},
		})
	}))

	_, err := c.EmbedBatch(context.Background(), []string{"fen-a"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)
	assert.Equal(t, "rate_limit_error", apiErr.Type)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	}))
	vectors, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"status 429", &APIError{Status: 429}, true},
		{"status 500", &APIError{Status: 500}, true},
		{"status 502", &APIError{Status: 502}, true},
		{"status 503", &APIError{Status: 503}, true},
		{"status 504", &APIError{Status: 504}, true},
		{"status 400", &APIError{Status: 400}, false},
		{"status 401", &APIError{Status: 401}, false},
		{"rate limit payload", &APIError{Status: 400, Type: "rate_limit_error"}, true},
		{"server error payload", &APIError{Status: 400, Type: "server_error"}, true},
		{"invalid request payload", &APIError{Status: 400, Type: "invalid_request_error"}, false},
		{"network failure", errors.New("connection refused"), true},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestChunkTextsBoundedByCount(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	chunks := ChunkTexts(texts, 2, 1000)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a", "b"}, chunks[0])
	assert.Equal(t, []string{"c", "d"}, chunks[1])
	assert.Equal(t, []string{"e"}, chunks[2])
}

func TestChunkTextsBoundedByChars(t *testing.T) {
	texts := []string{"aaaa", "bbbb", "cc"}
	chunks := ChunkTexts(texts, 100, 8)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"aaaa", "bbbb"}, chunks[0])
	assert.Equal(t, []string{"cc"}, chunks[1])
}

func TestChunkTextsOversizeGoesAlone(t *testing.T) {
	big := make([]byte, 20)
	for i := range big {
		big[i] = 'x'
	}
	chunks := ChunkTexts([]string{"aa", string(big), "bb"}, 100, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"aa"}, chunks[0])
	assert.Equal(t, []string{string(big)}, chunks[1])
	assert.Equal(t, []string{"bb"}, chunks[2])
}
