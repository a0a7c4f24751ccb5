// Package query drives hybrid retrieval: metadata candidates, vector
// hits, score fusion, optional agent re-ranking and pagination.
package query

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/circuitbreaker"
	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/vectordb"
)

// Score weights. The vector path dominates the base score; the agent,
// when available, splits the final score evenly with it.
const (
	vectorWeight  = 0.7
	keywordWeight = 0.3
	agentWeight   = 0.5

	// Fallback weights when a candidate has no vector hit. Rating and
	// opening matches together cap the heuristic at 0.65 so a real
	// vector hit can always outrank a pure metadata match.
	fallbackRatingWeight  = 0.35
	fallbackOpeningWeight = 0.30
)

const (
	// DefaultCandidateMultiplier scales limit into the overfetch size.
	DefaultCandidateMultiplier = 5
	// DefaultCandidateMax bounds how many candidates reach the agent.
	DefaultCandidateMax = 25
	// DefaultOverfetchMax bounds the metadata/vector overfetch.
	DefaultOverfetchMax = 500
)

// AgentEvaluator scores candidates against the plan.
type AgentEvaluator interface {
	Evaluate(ctx context.Context, plan intent.Plan, candidates []agent.Candidate) ([]agent.Evaluation, error)
}

// Deps bundles everything an execution needs. FetchGames, FetchVectorHits
// and FetchPGNs are function fields so tests can drive the executor
// without infrastructure. Agent, Cache and Breaker are optional.
type Deps struct {
	FetchGames      func(ctx context.Context, plan intent.Plan, limit, offset int) ([]db.GameRow, int, error)
	FetchVectorHits func(ctx context.Context, plan intent.Plan, limit int) ([]vectordb.Hit, error)
	FetchPGNs       func(ctx context.Context, ids []int64) (map[int64]string, error)

	Agent        AgentEvaluator
	Cache        agent.Cache
	CacheTTL     time.Duration
	Breaker      *circuitbreaker.Breaker
	AgentTimeout time.Duration

	CandidateMultiplier int
	CandidateMax        int
	OverfetchMax        int

	Logger *zap.Logger
}

// Result is one scored game.
type Result struct {
	GameID           int64    `json:"game_id"`
	White            string   `json:"white"`
	Black            string   `json:"black"`
	Result           string   `json:"result,omitempty"`
	Event            string   `json:"event,omitempty"`
	Opening          string   `json:"opening,omitempty"`
	ECOCode          string   `json:"eco_code,omitempty"`
	WhiteRating      int      `json:"white_rating,omitempty"`
	BlackRating      int      `json:"black_rating,omitempty"`
	PlayedOn         string   `json:"played_on,omitempty"`
	Score            float64  `json:"score"`
	VectorScore      float64  `json:"vector_score"`
	KeywordScore     float64  `json:"keyword_score"`
	AgentScore       *float64 `json:"agent_score,omitempty"`
	AgentExplanation string   `json:"agent_explanation,omitempty"`
	Themes           []string `json:"themes"`
	Phases           []string `json:"phases"`
	Keywords         []string `json:"keywords"`
}

// Pagination reports the window the results were sliced from.
type Pagination struct {
	Offset  int  `json:"offset"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// Output is the full execution result.
type Output struct {
	Results     []Result   `json:"results"`
	Warnings    []string   `json:"warnings"`
	Pagination  Pagination `json:"pagination"`
	AgentStatus string     `json:"agent_status"`
}
