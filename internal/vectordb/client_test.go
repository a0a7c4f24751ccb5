package vectordb

import (
	"context"
	"encoding/json"
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
	return New(Config{URL: srv.URL, Collection: "chess_positions"}, zaptest.NewLogger(t))
}

func TestPointIDForFEN(t *testing.T) {
	const fen = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1"
	a := PointIDForFEN(fen)
	b := PointIDForFEN(fen)
	assert.Equal(t, a, b, "same position, same id")
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, PointIDForFEN(fen+" extra"))
}

func TestSearchPositionsQueryEndpoint(t *testing.T) {
	var gotPath string
	var gotBody queryRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"points": []map[string]interface{}{
					{
						"id":    "abc",
						"score": 0.92,
						"payload": map[string]interface{}{
							"game_id": 1,
							"phases":  []string{"middlegame"},
							"themes":  []string{"tactics"},
						},
					},
				},
			},
		})
	}))

	hits, err := c.SearchPositions(context.Background(),
		[]float32{0.1, 0.2}, SearchFilters{OpeningSlug: "kings_indian_defence"}, 10)
	require.NoError(t, err)
	assert.Equal(t, "/collections/chess_positions/points/query", gotPath)
	assert.Equal(t, 10, gotBody.Limit)
	assert.NotNil(t, gotBody.Filter)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), hits[0].GameID)
	assert.InDelta(t, 0.92, hits[0].Score, 1e-9)
	assert.Equal(t, []string{"middlegame"}, hits[0].Phases)
	assert.Equal(t, []string{"tactics"}, hits[0].Themes)
}

func TestSearchPositionsFallsBackToLegacyEndpoint(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/collections/chess_positions/points/query" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"id": "abc", "score": 0.5, "payload": map[string]interface{}{"game_id": 7}},
			},
		})
	}))

	hits, err := c.SearchPositions(context.Background(), []float32{0.1}, SearchFilters{}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(7), hits[0].GameID)
	assert.Equal(t, []string{
		"/collections/chess_positions/points/query",
		"/collections/chess_positions/points/search",
	}, paths)
}

func TestUpsertPointsWaitsForDurability(t *testing.T) {
	var gotQuery string
	var gotCount int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		var body struct {
			Points []Point `json:"points"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotCount = len(body.Points)
		w.WriteHeader(http.StatusOK)
	}))

	err := c.UpsertPoints(context.Background(), []Point{
		{ID: PointIDForFEN("fen-a"), Vector: []float32{0.1}, Payload: map[string]interface{}{"game_id": 1}},
		{ID: PointIDForFEN("fen-b"), Vector: []float32{0.2}, Payload: map[string]interface{}{"game_id": 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "wait=true", gotQuery)
	assert.Equal(t, 2, gotCount)
}

func TestUpsertPointsEmptyIsNoop(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty upsert")
	}))
	require.NoError(t, c.UpsertPoints(context.Background(), nil))
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			w.WriteHeader(http.StatusOK)
		}
	}))

	require.NoError(t, c.EnsureCollection(context.Background(), 1536))
	vectors, ok := created["vectors"].(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1536, vectors["size"])
	assert.Equal(t, "Cosine", vectors["distance"])
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": SnapshotInfo{Name: "snap-1", CreationTime: "2026-08-24T00:00:00Z", Size: 1024},
			})
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(map[string]interface{}{
				"result": []SnapshotInfo{{Name: "snap-1", Size: 1024}},
			})
		case r.Method == http.MethodPut:
			w.WriteHeader(http.StatusOK)
		}
	}))

	info, err := c.CreateSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "snap-1", info.Name)
	assert.Equal(t, int64(1024), info.Size)

	list, err := c.ListSnapshots(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, c.RecoverSnapshot(context.Background(), "/snapshots/snap-1"))
}
