package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/agent"
	"github.com/chessmate/chessmate/internal/circuitbreaker"
	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/sanitize"
)

// Execute runs the hybrid retrieval pipeline. It degrades rather than
// fails: a broken vector store or agent turns into warnings, not
// errors. The hard failures are the relational store and an expired
// request deadline, which the HTTP layer maps to 504.
func Execute(ctx context.Context, plan intent.Plan, deps Deps) (Output, error) {
	if deps.CandidateMultiplier <= 0 {
		deps.CandidateMultiplier = DefaultCandidateMultiplier
	}
	if deps.CandidateMax <= 0 {
		deps.CandidateMax = DefaultCandidateMax
	}
	if deps.OverfetchMax <= 0 {
		deps.OverfetchMax = DefaultOverfetchMax
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	out := Output{
		Results:     []Result{},
		Warnings:    []string{},
		AgentStatus: agent.StatusDisabled,
	}

	overfetch := clamp(plan.Limit*deps.CandidateMultiplier, plan.Limit, deps.OverfetchMax)
	games, total, err := deps.FetchGames(ctx, plan, overfetch, 0)
	if err != nil {
		return out, fmt.Errorf("fetch games: %w", err)
	}

	hits, err := deps.FetchVectorHits(ctx, plan, overfetch)
	if err != nil {
		// A dead vector store degrades to fallback scoring, but a spent
		// request deadline is the whole request timing out.
		if ctx.Err() != nil {
			return out, fmt.Errorf("vector search: %w", ctx.Err())
		}
		out.Warnings = append(out.Warnings,
			"vector search unavailable: "+sanitize.Error(err))
		deps.Logger.Warn("Vector search failed, using fallback scoring",
			zap.Error(err),
		)
		hits = nil
	}
	hitByGame := collapseHits(hits)

	candidates := make([]scored, 0, len(games))
	for _, g := range games {
		s := scored{game: g}
		s.hit, s.hasHit = hitByGame[g.ID]
		s.vector = vectorComponent(plan, g, s.hit, s.hasHit)
		s.keyword = keywordComponent(plan, g, s.hit.Keywords)
		s.base = vectorWeight*s.vector + keywordWeight*s.keyword
		s.final = s.base
		candidates = append(candidates, s)
	}

	if deps.Agent != nil && len(candidates) > 0 {
		out.AgentStatus = runAgent(ctx, plan, deps, candidates, &out.Warnings)
		if ctx.Err() != nil {
			return out, fmt.Errorf("agent evaluation: %w", ctx.Err())
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return lessScored(candidates[i], candidates[j])
	})

	out.Pagination = Pagination{
		Offset:  plan.Offset,
		Limit:   plan.Limit,
		Total:   total,
		HasMore: plan.Offset+plan.Limit < total,
	}
	for _, s := range paginate(candidates, plan.Offset, plan.Limit) {
		out.Results = append(out.Results, toResult(s))
	}
	return out, nil
}

// lessScored orders by final score descending, then played_on
// descending with unknown dates last, then game id ascending.
func lessScored(a, b scored) bool {
	if a.final != b.final {
		return a.final > b.final
	}
	aT, bT := a.game.PlayedOn, b.game.PlayedOn
	if aT.Valid != bT.Valid {
		return aT.Valid
	}
	if aT.Valid && !aT.Time.Equal(bT.Time) {
		return aT.Time.After(bT.Time)
	}
	return a.game.ID < b.game.ID
}

func paginate(candidates []scored, offset, limit int) []scored {
	if offset >= len(candidates) {
		return nil
	}
	end := offset + limit
	if end > len(candidates) {
		end = len(candidates)
	}
	return candidates[offset:end]
}

// runAgent re-ranks the top candidates by base score. Cache hits
// bypass the breaker and the LLM call; only misses cost a request.
// candidates is mutated in place. Returns the agent status.
func runAgent(ctx context.Context, plan intent.Plan, deps Deps, candidates []scored, warnings *[]string) string {
	budget := clamp(plan.Limit*deps.CandidateMultiplier, plan.Limit, deps.CandidateMax)
	if budget > len(candidates) {
		budget = len(candidates)
	}

	// Index of candidates ordered by base score; the slice itself
	// keeps its original order so scores land back on the right rows.
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return lessScored(candidates[order[i]], candidates[order[j]])
	})
	chosen := order[:budget]

	digest := intent.Digest(plan)
	byGame := make(map[int64]int, len(chosen))
	keys := make([]string, 0, len(chosen))
	for _, idx := range chosen {
		id := candidates[idx].game.ID
		byGame[id] = idx
		keys = append(keys, agent.Key(digest, id))
	}

	cached := map[string]agent.Evaluation{}
	if deps.Cache != nil {
		if got, err := deps.Cache.GetMany(ctx, keys); err == nil {
			cached = got
		} else {
			deps.Logger.Warn("Agent cache lookup failed", zap.Error(err))
		}
	}
	for _, ev := range cached {
		applyEvaluation(candidates, byGame, ev)
	}

	var missIDs []int64
	for _, idx := range chosen {
		id := candidates[idx].game.ID
		if _, ok := cached[agent.Key(digest, id)]; !ok {
			missIDs = append(missIDs, id)
		}
	}
	if len(missIDs) == 0 {
		return agent.StatusEnabled
	}

	if deps.Breaker != nil {
		if err := deps.Breaker.Allow(); err != nil {
			if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
				*warnings = append(*warnings, "agent evaluation skipped: circuit breaker open")
				return agent.StatusCircuitOpen
			}
			*warnings = append(*warnings, "agent evaluation skipped: "+sanitize.Error(err))
			return agent.StatusError
		}
	}

	pgns := map[int64]string{}
	if deps.FetchPGNs != nil {
		var err error
		pgns, err = deps.FetchPGNs(ctx, missIDs)
		if err != nil {
			recordBreaker(deps.Breaker, false)
			*warnings = append(*warnings, "agent evaluation failed: "+sanitize.Error(err))
			return agent.StatusError
		}
	}

	agentCandidates := make([]agent.Candidate, 0, len(missIDs))
	for _, id := range missIDs {
		g := candidates[byGame[id]].game
		agentCandidates = append(agentCandidates, agent.Candidate{
			GameID:  id,
			Summary: summarise(g),
			PGN:     pgns[id],
		})
	}

	timeout := deps.AgentTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	agentCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	evals, err := deps.Agent.Evaluate(agentCtx, plan, agentCandidates)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
			// The client went away; the agent did nothing wrong, so the
			// breaker stays untouched.
			*warnings = append(*warnings, "agent evaluation cancelled")
			return agent.StatusError
		case errors.Is(err, context.DeadlineExceeded) || agentCtx.Err() != nil:
			recordBreaker(deps.Breaker, false)
			*warnings = append(*warnings,
				fmt.Sprintf("agent timeout after %s", timeout))
			return agent.StatusTimeout
		default:
			recordBreaker(deps.Breaker, false)
			*warnings = append(*warnings, "agent evaluation failed: "+sanitize.Error(err))
			return agent.StatusError
		}
	}
	recordBreaker(deps.Breaker, true)

	store := make(map[string]agent.Evaluation, len(evals))
	for _, ev := range evals {
		if _, ok := byGame[ev.GameID]; !ok {
			continue // id the model invented
		}
		applyEvaluation(candidates, byGame, ev)
		store[agent.Key(digest, ev.GameID)] = ev
	}
	if deps.Cache != nil && len(store) > 0 {
		ttl := deps.CacheTTL
		if ttl <= 0 {
			ttl = time.Hour
		}
		if err := deps.Cache.PutMany(ctx, store, ttl); err != nil {
			deps.Logger.Warn("Agent cache store failed", zap.Error(err))
		}
	}
	return agent.StatusEnabled
}

func applyEvaluation(candidates []scored, byGame map[int64]int, ev agent.Evaluation) {
	idx, ok := byGame[ev.GameID]
	if !ok {
		return
	}
	score := ev.Score
	candidates[idx].agentScore = &score
	candidates[idx].agentExplanation = ev.Explanation
	candidates[idx].agentThemes = ev.Themes
	candidates[idx].final = agentWeight*candidates[idx].base + agentWeight*score
}

func recordBreaker(b *circuitbreaker.Breaker, success bool) {
	if b == nil {
		return
	}
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

// summarise builds the one-line game description the agent prompt
// leads each candidate with.
func summarise(g db.GameRow) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s vs %s", g.WhiteName, g.BlackName)
	if g.WhiteRating.Valid && g.BlackRating.Valid {
		fmt.Fprintf(&b, " (%d vs %d)", g.WhiteRating.Int64, g.BlackRating.Int64)
	}
	if g.Result.Valid {
		b.WriteString(", " + g.Result.String)
	}
	if g.OpeningName.Valid {
		b.WriteString(", " + g.OpeningName.String)
	}
	if g.Event.Valid {
		b.WriteString(", " + g.Event.String)
	}
	if g.PlayedOn.Valid {
		b.WriteString(", " + g.PlayedOn.Time.Format("2006-01-02"))
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
