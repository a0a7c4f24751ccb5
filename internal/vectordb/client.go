// Package vectordb is a minimal Qdrant HTTP client for the position
// index: search, upsert, collection management and snapshots.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/metrics"
)

// Client talks to one Qdrant collection.
type Client struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger
}

// New builds a client; it performs no network calls.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "http://localhost:6333"
	}
	if cfg.Collection == "" {
		cfg.Collection = "chess_positions"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}
}

// Collection returns the configured collection name.
func (c *Client) Collection() string { return c.cfg.Collection }

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// Healthz checks the Qdrant health endpoint.
func (c *Client) Healthz(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("qdrant healthz status %d", resp.StatusCode)
	}
	return nil
}

// EnsureCollection creates the collection if it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+c.cfg.Collection, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{"size": dim, "distance": "Cosine"},
	}
	resp, err = c.do(ctx, http.MethodPut, "/collections/"+c.cfg.Collection, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("create collection status %d", resp.StatusCode)
	}
	c.log.Info("Vector collection created",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dim", dim),
	)
	return nil
}

type queryRequest struct {
	Query       []float32              `json:"query"`
	Limit       int                    `json:"limit"`
	WithPayload bool                   `json:"with_payload"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
}

type scoredPoint struct {
	ID      interface{}            `json:"id"`
	Score   float64                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// /points/query nests the points one level deeper than /points/search.
type queryResponse struct {
	Result struct {
		Points []scoredPoint `json:"points"`
	} `json:"result"`
}

type searchResponse struct {
	Result []scoredPoint `json:"result"`
}

// SearchPositions runs a similarity search over the collection. It
// prefers the modern /points/query endpoint and falls back to
// /points/search for older Qdrant versions.
func (c *Client) SearchPositions(ctx context.Context, vector []float32, filters SearchFilters, limit int) ([]Hit, error) {
	start := time.Now()
	filter := buildFilter(filters)

	hits, err := c.queryPoints(ctx, vector, filter, limit)
	if err != nil {
		hits, err = c.searchPoints(ctx, vector, filter, limit)
	}
	if err != nil {
		metrics.RecordVectorSearch("error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordVectorSearch("ok", time.Since(start).Seconds())
	return hits, nil
}

func (c *Client) queryPoints(ctx context.Context, vector []float32, filter map[string]interface{}, limit int) ([]Hit, error) {
	resp, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.cfg.Collection+"/points/query",
		queryRequest{Query: vector, Limit: limit, WithPayload: true, Filter: filter})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant query status %d", resp.StatusCode)
	}
	var r queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return toHits(r.Result.Points), nil
}

func (c *Client) searchPoints(ctx context.Context, vector []float32, filter map[string]interface{}, limit int) ([]Hit, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter != nil {
		body["filter"] = filter
	}
	resp, err := c.do(ctx, http.MethodPost,
		"/collections/"+c.cfg.Collection+"/points/search", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant search status %d", resp.StatusCode)
	}
	var r searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return toHits(r.Result), nil
}

func buildFilter(f SearchFilters) map[string]interface{} {
	var must []map[string]interface{}
	if f.OpeningSlug != "" {
		must = append(must, map[string]interface{}{
			"key": "opening_slug", "match": map[string]interface{}{"value": f.OpeningSlug},
		})
	}
	if len(f.Phases) > 0 {
		must = append(must, map[string]interface{}{
			"key": "phases", "match": map[string]interface{}{"any": f.Phases},
		})
	}
	if len(f.Themes) > 0 {
		must = append(must, map[string]interface{}{
			"key": "themes", "match": map[string]interface{}{"any": f.Themes},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]interface{}{"must": must}
}

func toHits(points []scoredPoint) []Hit {
	out := make([]Hit, 0, len(points))
	for _, p := range points {
		h := Hit{Score: p.Score}
		if v, ok := p.Payload["game_id"].(float64); ok {
			h.GameID = int64(v)
		}
		h.Phases = stringList(p.Payload["phases"])
		h.Themes = stringList(p.Payload["themes"])
		h.Keywords = stringList(p.Payload["keywords"])
		out = append(out, h)
	}
	return out
}

func stringList(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// UpsertPoints writes points with wait=true so a successful return
// means the vectors are durably indexed.
func (c *Client) UpsertPoints(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	resp, err := c.do(ctx, http.MethodPut,
		"/collections/"+c.cfg.Collection+"/points?wait=true",
		map[string]interface{}{"points": points})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant upsert status %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
