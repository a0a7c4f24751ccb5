package query

import (
	"regexp"
	"strings"

	"github.com/chessmate/chessmate/internal/db"
	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/vectordb"
)

// scored carries a candidate through fusion and ranking.
type scored struct {
	game   db.GameRow
	hit    vectordb.Hit
	hasHit bool

	vector  float64
	keyword float64
	base    float64
	final   float64

	agentScore       *float64
	agentExplanation string
	agentThemes      []string
}

var termRe = regexp.MustCompile(`[a-z0-9]+`)

// vectorComponent is the hit score when a hit exists; otherwise a
// deterministic metadata heuristic so pure relational matches still
// rank above nothing at all.
func vectorComponent(plan intent.Plan, game db.GameRow, hit vectordb.Hit, hasHit bool) float64 {
	if hasHit {
		return hit.Score
	}
	score := 0.0
	if ratingMatch(plan, game) {
		score += fallbackRatingWeight
	}
	if openingMatch(plan, game) {
		score += fallbackOpeningWeight
	}
	return score
}

func ratingMatch(plan intent.Plan, game db.GameRow) bool {
	constrained := false
	if plan.WhiteMinRating > 0 {
		constrained = true
		if !game.WhiteRating.Valid || game.WhiteRating.Int64 < int64(plan.WhiteMinRating) {
			return false
		}
	}
	if plan.BlackMinRating > 0 {
		constrained = true
		if !game.BlackRating.Valid || game.BlackRating.Int64 < int64(plan.BlackMinRating) {
			return false
		}
	}
	if plan.MaxRatingDelta > 0 {
		constrained = true
		if !game.WhiteRating.Valid || !game.BlackRating.Valid {
			return false
		}
		delta := game.WhiteRating.Int64 - game.BlackRating.Int64
		if delta < 0 {
			delta = -delta
		}
		if delta > int64(plan.MaxRatingDelta) {
			return false
		}
	}
	return constrained
}

func openingMatch(plan intent.Plan, game db.GameRow) bool {
	slug := plan.OpeningSlug()
	return slug != "" && game.OpeningSlug.Valid && game.OpeningSlug.String == slug
}

// keywordComponent is the fraction of plan keywords found among the
// vector-hit keywords and the candidate's own metadata terms.
func keywordComponent(plan intent.Plan, game db.GameRow, hitKeywords []string) float64 {
	if len(plan.Keywords) == 0 {
		return 0
	}
	terms := make(map[string]bool, len(hitKeywords))
	for _, k := range hitKeywords {
		terms[strings.ToLower(k)] = true
	}
	for _, t := range metadataTerms(game) {
		terms[t] = true
	}
	matched := 0
	for _, k := range plan.Keywords {
		if terms[strings.ToLower(k)] {
			matched++
		}
	}
	return float64(matched) / float64(len(plan.Keywords))
}

func metadataTerms(game db.GameRow) []string {
	var raw []string
	raw = append(raw, game.WhiteName, game.BlackName)
	if game.OpeningName.Valid {
		raw = append(raw, game.OpeningName.String)
	}
	if game.OpeningSlug.Valid {
		raw = append(raw, strings.ReplaceAll(game.OpeningSlug.String, "_", " "))
	}
	if game.Event.Valid {
		raw = append(raw, game.Event.String)
	}
	if game.ECOCode.Valid {
		raw = append(raw, game.ECOCode.String)
	}
	var out []string
	for _, r := range raw {
		out = append(out, termRe.FindAllString(strings.ToLower(r), -1)...)
	}
	return out
}

func toResult(s scored) Result {
	r := Result{
		GameID:           s.game.ID,
		White:            s.game.WhiteName,
		Black:            s.game.BlackName,
		Score:            s.final,
		VectorScore:      s.vector,
		KeywordScore:     s.keyword,
		AgentScore:       s.agentScore,
		AgentExplanation: s.agentExplanation,
		Themes:           orEmpty(unionFold(s.hit.Themes, s.agentThemes)),
		Phases:           orEmpty(s.hit.Phases),
		Keywords:         orEmpty(s.hit.Keywords),
	}
	if s.game.Result.Valid {
		r.Result = s.game.Result.String
	}
	if s.game.Event.Valid {
		r.Event = s.game.Event.String
	}
	if s.game.OpeningName.Valid {
		r.Opening = s.game.OpeningName.String
	}
	if s.game.ECOCode.Valid {
		r.ECOCode = s.game.ECOCode.String
	}
	if s.game.WhiteRating.Valid {
		r.WhiteRating = int(s.game.WhiteRating.Int64)
	}
	if s.game.BlackRating.Valid {
		r.BlackRating = int(s.game.BlackRating.Int64)
	}
	if s.game.PlayedOn.Valid {
		r.PlayedOn = s.game.PlayedOn.Time.Format("2006-01-02")
	}
	return r
}

// orEmpty keeps list fields serialising as [] rather than null.
func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
