package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/health"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/openings"
	"github.com/chessmate/chessmate/internal/query"
	"github.com/chessmate/chessmate/internal/ratelimit"
	"github.com/chessmate/chessmate/internal/vectordb"
)

func testServer(t *testing.T, limiter ratelimit.Config, maxBody int64) *Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	deps := query.Deps{
		FetchGames: func(context.Context, intent.Plan, int, int) ([]db.GameRow, int, error) {
			return []db.GameRow{{ID: 1, WhiteName: "A", BlackName: "B"}}, 1, nil
		},
		FetchVectorHits: func(context.Context, intent.Plan, int) ([]vectordb.Hit, error) {
			return nil, nil
		},
		Logger: logger,
	}
	return &Server{
		Analyser:       intent.NewAnalyser(openings.MustLoad()),
		Deps:           deps,
		Limiter:        ratelimit.New(limiter, logger),
		Health:         health.NewManager(logger, time.Second),
		OpenAPI:        []byte("openapi: 3.0.3\n"),
		MaxBodyBytes:   maxBody,
		RequestTimeout: 5 * time.Second,
		Logger:         logger,
	}
}

func generousLimits() ratelimit.Config {
	return ratelimit.Config{RequestsPerMinute: 10000, BucketSize: 10000}
}

func TestQueryPost(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	body := `{"question":"berlin defence endgames","limit":10}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "berlin defence endgames", resp.Question)
	assert.Equal(t, 10, resp.Plan.Limit)
	assert.Len(t, resp.Results, 1)
	assert.Equal(t, "disabled", resp.Agent.Status)
}

func TestQueryGet(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/query?q=sicilian+endgames&limit=5&offset=0", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Pagination.Limit)
}

func TestQueryPostAcceptsAsJSON(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	body := `{"question":"berlin defence","as_json":true}`
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp queryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "berlin defence", resp.Question)
}

func TestQueryDeadlineIs504(t *testing.T) {
	cases := map[string]func(s *Server){
		"relational fetch stalls": func(s *Server) {
			s.Deps.FetchGames = func(ctx context.Context, _ intent.Plan, _, _ int) ([]db.GameRow, int, error) {
				<-ctx.Done()
				return nil, 0, ctx.Err()
			}
		},
		"vector fetch stalls": func(s *Server) {
			s.Deps.FetchVectorHits = func(ctx context.Context, _ intent.Plan, _ int) ([]vectordb.Hit, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			}
		},
	}
	for name, arrange := range cases {
		t.Run(name, func(t *testing.T) {
			s := testServer(t, generousLimits(), 1<<20)
			s.RequestTimeout = 50 * time.Millisecond
			arrange(s)

			req := httptest.NewRequest(http.MethodGet, "/query?q=sicilian", nil)
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, req)

			require.Equal(t, http.StatusGatewayTimeout, rec.Code)
			var e errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.Equal(t, "timeout", e.Error.Code)
		})
	}
}

func TestQueryValidation(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	routes := s.Routes()

	for name, body := range map[string]string{
		"malformed json":   `{"question": `,
		"missing question": `{"limit": 5}`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(body))
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, req)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			var e errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
			assert.Equal(t, "validation", e.Error.Code)
		})
	}
}

func TestBodyLimitBoundary(t *testing.T) {
	const max = 256
	s := testServer(t, generousLimits(), max)
	routes := s.Routes()

	pad := func(n int) string {
		q := `{"question":"sicilian","pad":"`
		return q + strings.Repeat("x", n-len(q)-2) + `"}`
	}

	exact := pad(max)
	require.Len(t, exact, max)
	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(exact))
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "body exactly at the limit is accepted")

	over := pad(max + 1)
	req = httptest.NewRequest(http.MethodPost, "/query", strings.NewReader(over))
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code, "one byte over is rejected")
}

func TestRateLimitRetryAfter(t *testing.T) {
	s := testServer(t, ratelimit.Config{RequestsPerMinute: 60, BucketSize: 1}, 1<<20)
	routes := s.Routes()

	req := httptest.NewRequest(http.MethodGet, "/query?q=sicilian", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.5")
	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/query?q=sicilian", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.5")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	var e errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &e))
	assert.Equal(t, "rate_limited", e.Error.Code)

	// A different client is unaffected.
	req = httptest.NewRequest(http.MethodGet, "/query?q=sicilian", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.6")
	rec = httptest.NewRecorder()
	routes.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var report health.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, health.StatusOK, report.Status)
}

func TestHealthFailureIs503(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	s.Health.Register(failingProbe{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type failingProbe struct{}

func (failingProbe) Name() string   { return "postgres" }
func (failingProbe) Required() bool { return true }
func (failingProbe) Check(context.Context) health.Check {
	return health.Check{Name: "postgres", Required: true, Status: health.StatusError, Error: "down"}
}

func TestOpenAPIServedVerbatim(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	req := httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "openapi: 3.0.3\n", rec.Body.String())
}

func TestErrorBodiesAreSanitised(t *testing.T) {
	s := testServer(t, generousLimits(), 1<<20)
	s.Deps.FetchGames = func(context.Context, intent.Plan, int, int) ([]db.GameRow, int, error) {
		return nil, 0, fmt.Errorf("dial postgres://admin:hunter2@db:5432: refused")
	}
	req := httptest.NewRequest(http.MethodGet, "/query?q=sicilian", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "hunter2")
	assert.Contains(t, rec.Body.String(), "[redacted]")
}

func TestClientAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/query", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	assert.Equal(t, "192.0.2.1", clientAddr(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.5, 172.16.0.1")
	assert.Equal(t, "10.0.0.5", clientAddr(r))
}

func TestQueryBodyReadOverLimit(t *testing.T) {
	// No Content-Length: the limit has to trip during the read.
	const max = 64
	s := testServer(t, generousLimits(), max)
	body := bytes.NewBufferString(`{"question":"` + strings.Repeat("x", max*2) + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/query", struct{ *bytes.Buffer }{body})
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
