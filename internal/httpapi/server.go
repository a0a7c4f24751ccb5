// Package httpapi serves the query API: /query, /health, /metrics and
// the OpenAPI document.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/health"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/query"
	"github.com/chessmate/chessmate/internal/ratelimit"
	"github.com/chessmate/chessmate/internal/sanitize"
)

// Server wires the analyser, executor dependencies and the
// reliability middleware into an http.Handler.
type Server struct {
	Analyser        *intent.Analyser
	Deps            query.Deps
	Limiter         *ratelimit.Limiter
	Health          *health.Manager
	OpenAPI         []byte
	MaxBodyBytes    int64
	RequestTimeout  time.Duration
	ReasoningEffort string
	Logger          *zap.Logger
}

// Routes builds the mux. Query traffic runs through the full
// middleware stack; health and metrics stay outside the rate limiter
// so monitoring cannot be throttled away.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	queryHandler := Chain(http.HandlerFunc(s.handleQuery),
		Observe("query"),
		BodyLimit(s.MaxBodyBytes),
		RateLimit(s.Limiter),
		Deadline(s.RequestTimeout),
	)
	mux.Handle("POST /query", queryHandler)
	mux.Handle("GET /query", queryHandler)

	mux.Handle("GET /health", Chain(http.HandlerFunc(s.handleHealth), Observe("health")))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		w.Write(s.OpenAPI)
	})
	return mux
}

type queryRequest struct {
	Question string `json:"question"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
	// AsJSON is accepted for callers that set it explicitly; responses
	// are always JSON, so it changes nothing.
	AsJSON bool `json:"as_json"`
}

type agentInfo struct {
	Status          string `json:"status"`
	ReasoningEffort string `json:"reasoning_effort,omitempty"`
}

type queryResponse struct {
	Question   string           `json:"question"`
	Plan       intent.Plan      `json:"plan"`
	Results    []query.Result   `json:"results"`
	Pagination query.Pagination `json:"pagination"`
	Warnings   []string         `json:"warnings"`
	Agent      agentInfo        `json:"agent"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	plan := s.Analyser.Analyse(req.Question, req.Limit, req.Offset)
	out, err := query.Execute(r.Context(), plan, s.Deps)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
			return
		}
		s.Logger.Error("Query execution failed",
			zap.String("question", req.Question),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal", sanitize.Error(err))
		return
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Question:   req.Question,
		Plan:       plan,
		Results:    out.Results,
		Pagination: out.Pagination,
		Warnings:   out.Warnings,
		Agent:      agentInfo{Status: out.AgentStatus, ReasoningEffort: s.ReasoningEffort},
	})
}

func (s *Server) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Question = q.Get("q")
		if v := q.Get("limit"); v != "" {
			req.Limit, _ = strconv.Atoi(v)
		}
		if v := q.Get("offset"); v != "" {
			req.Offset, _ = strconv.Atoi(v)
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				writeError(w, http.StatusRequestEntityTooLarge,
					"payload_too_large", "request body exceeds limit")
				return req, false
			}
			writeError(w, http.StatusBadRequest, "validation", "malformed JSON body")
			return req, false
		}
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "validation", "question is required")
		return req, false
	}
	if req.Offset < 0 {
		req.Offset = 0
	}
	return req, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.Health.Run(r.Context())
	status := http.StatusOK
	if report.Status != health.StatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = sanitize.String(message)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
