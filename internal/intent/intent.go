// Package intent turns a natural-language question into a typed query
// plan: filters, rating constraints, keywords and pagination.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/chessmate/chessmate/internal/openings"
)

const (
	// DefaultLimit applies when neither the text nor the request
	// specifies a result count.
	DefaultLimit = 50
	// MaxLimit caps any requested result count.
	MaxLimit = 500
)

// Filter is one extracted constraint. Field is one of opening,
// eco_range, result, phase, theme.
type Filter struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// Plan is the analyser output the executor runs on.
type Plan struct {
	Filters        []Filter `json:"filters"`
	Keywords       []string `json:"keywords"`
	WhiteMinRating int      `json:"white_min_rating,omitempty"`
	BlackMinRating int      `json:"black_min_rating,omitempty"`
	MaxRatingDelta int      `json:"max_rating_delta,omitempty"`
	Limit          int      `json:"limit"`
	Offset         int      `json:"offset"`
}

// OpeningSlug returns the first opening filter value, if any.
func (p Plan) OpeningSlug() string {
	for _, f := range p.Filters {
		if f.Field == "opening" {
			return f.Value
		}
	}
	return ""
}

// ECORange returns the first eco_range filter split into lo/hi.
func (p Plan) ECORange() (string, string) {
	for _, f := range p.Filters {
		if f.Field == "eco_range" {
			if lo, hi, ok := strings.Cut(f.Value, "-"); ok {
				return lo, hi
			}
		}
	}
	return "", ""
}

// Result returns the result filter value, if any.
func (p Plan) Result() string {
	for _, f := range p.Filters {
		if f.Field == "result" {
			return f.Value
		}
	}
	return ""
}

// FilterValues collects the values of all filters with the field.
func (p Plan) FilterValues(field string) []string {
	var out []string
	for _, f := range p.Filters {
		if f.Field == field {
			out = append(out, f.Value)
		}
	}
	return out
}

// Analyser extracts plans from question text. It never fails;
// ambiguous input just yields fewer filters.
type Analyser struct {
	catalogue *openings.Catalogue
}

// NewAnalyser wires the opening catalogue.
func NewAnalyser(catalogue *openings.Catalogue) *Analyser {
	return &Analyser{catalogue: catalogue}
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	limitVerbRe  = regexp.MustCompile(`\b(?:top|first|show|find|give|return)\s+(\d+)\b`)
	limitGamesRe = regexp.MustCompile(`\b(\d+)\s+games\b`)

	whiteMinRe = regexp.MustCompile(`\bwhite\s+(?:is\s+)?(?:rated\s+)?(?:at\s+least\s+|>=\s*|above\s+|over\s+)?(\d{3,4})\b`)
	blackMinRe = regexp.MustCompile(`\bblack\s+(?:is\s+)?(?:rated\s+)?(?:at\s+least\s+|>=\s*|above\s+|over\s+)?(\d{3,4})\b`)
	deltaRe    = regexp.MustCompile(`\b(\d+)\s+points?\s+(?:lower|apart|delta|gap)\b`)
	plusRe     = regexp.MustCompile(`\b(\d{3,4})\+`)
	colourRe   = regexp.MustCompile(`\b(white|black)\b`)

	tokenRe = regexp.MustCompile(`[a-z0-9]+`)
)

// phaseVocab and themeVocab map surface phrases to filter values.
// Phrases are matched as substrings of the normalised text.
var phaseVocab = []struct{ phrase, value string }{
	{"endgame", "endgame"},
	{"ending", "endgame"},
	{"middlegame", "middlegame"},
	{"middle game", "middlegame"},
}

var themeVocab = []struct{ phrase, value string }{
	{"queenside majority", "queenside_majority"},
	{"kingside attack", "kingside_attack"},
	{"pawn storm", "pawn_storm"},
	{"sacrifice", "sacrifice"},
	{"zugzwang", "zugzwang"},
	{"fortress", "fortress"},
	{"prophylaxis", "prophylaxis"},
	{"tactic", "tactics"},
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "at": true,
	"by": true, "find": true, "for": true, "from": true, "game": true,
	"games": true, "give": true, "highlight": true, "in": true,
	"is": true, "least": true, "me": true, "of": true, "on": true,
	"or": true, "play": true, "played": true, "player": true,
	"players": true, "rated": true, "return": true, "show": true,
	"that": true, "the": true, "to": true, "top": true, "was": true,
	"were": true, "where": true, "which": true, "with": true,
	"first": true,
}

// Analyse builds a plan from the question. requestedLimit and
// requestedOffset come from the API request and lose to values found
// in the text; zero means unset.
func (a *Analyser) Analyse(text string, requestedLimit, requestedOffset int) Plan {
	norm := whitespaceRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
	consumed := make(map[string]bool)

	plan := Plan{
		Limit:  extractLimit(norm, requestedLimit, consumed),
		Offset: max(requestedOffset, 0),
	}

	extractRatings(norm, &plan, consumed)

	for _, o := range a.catalogue.Match(norm) {
		plan.Filters = append(plan.Filters, Filter{Field: "opening", Value: o.Slug})
		if o.ECOLo != "" && o.ECOHi != "" {
			plan.Filters = append(plan.Filters, Filter{Field: "eco_range", Value: o.ECOLo + "-" + o.ECOHi})
		}
		consumeTokens(consumed, o.Name)
		consumeTokens(consumed, o.Aliases...)
	}

	if result, src := extractResult(norm); result != "" {
		plan.Filters = append(plan.Filters, Filter{Field: "result", Value: result})
		consumeTokens(consumed, src)
	}

	for _, v := range phaseVocab {
		if strings.Contains(norm, v.phrase) && !hasFilter(plan.Filters, "phase", v.value) {
			plan.Filters = append(plan.Filters, Filter{Field: "phase", Value: v.value})
			consumeTokens(consumed, v.phrase)
		}
	}
	for _, v := range themeVocab {
		if strings.Contains(norm, v.phrase) && !hasFilter(plan.Filters, "theme", v.value) {
			plan.Filters = append(plan.Filters, Filter{Field: "theme", Value: v.value})
			consumeTokens(consumed, v.phrase)
		}
	}

	for _, tok := range tokenRe.FindAllString(norm, -1) {
		if stopwords[tok] || consumed[tok] {
			continue
		}
		plan.Keywords = append(plan.Keywords, tok)
		consumed[tok] = true // de-duplicate keywords
	}

	return plan
}

func extractLimit(norm string, requested int, consumed map[string]bool) int {
	for _, re := range []*regexp.Regexp{limitVerbRe, limitGamesRe} {
		if m := re.FindStringSubmatch(norm); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= 1 {
				consumed[m[1]] = true
				return min(n, MaxLimit)
			}
		}
	}
	if requested > 0 {
		return min(requested, MaxLimit)
	}
	return DefaultLimit
}

func extractRatings(norm string, plan *Plan, consumed map[string]bool) {
	if m := whiteMinRe.FindStringSubmatch(norm); m != nil {
		plan.WhiteMinRating, _ = strconv.Atoi(m[1])
		consumed[m[1]] = true
		consumed["white"] = true
	}
	if m := blackMinRe.FindStringSubmatch(norm); m != nil {
		plan.BlackMinRating, _ = strconv.Atoi(m[1])
		consumed[m[1]] = true
		consumed["black"] = true
	}
	if m := deltaRe.FindStringSubmatch(norm); m != nil {
		plan.MaxRatingDelta, _ = strconv.Atoi(m[1])
		consumed[m[1]] = true
	}

	// "2700+" sets the minimum for whichever colour was mentioned
	// most recently before the number.
	for _, loc := range plusRe.FindAllStringSubmatchIndex(norm, -1) {
		colour := ""
		for _, cm := range colourRe.FindAllStringSubmatchIndex(norm[:loc[0]], -1) {
			colour = norm[cm[2]:cm[3]]
		}
		n, _ := strconv.Atoi(norm[loc[2]:loc[3]])
		switch colour {
		case "white":
			if plan.WhiteMinRating == 0 {
				plan.WhiteMinRating = n
				consumed[norm[loc[2]:loc[3]]] = true
			}
		case "black":
			if plan.BlackMinRating == 0 {
				plan.BlackMinRating = n
				consumed[norm[loc[2]:loc[3]]] = true
			}
		}
	}
}

func extractResult(norm string) (value, source string) {
	switch {
	case strings.Contains(norm, "drawn") || strings.Contains(norm, "draw"):
		return "1/2-1/2", "drawn draw"
	case strings.Contains(norm, "white wins") || strings.Contains(norm, "1-0"):
		return "1-0", "white wins"
	case strings.Contains(norm, "black wins") || strings.Contains(norm, "0-1"):
		return "0-1", "black wins"
	}
	return "", ""
}

func hasFilter(filters []Filter, field, value string) bool {
	for _, f := range filters {
		if f.Field == field && f.Value == value {
			return true
		}
	}
	return false
}

func consumeTokens(consumed map[string]bool, phrases ...string) {
	for _, p := range phrases {
		for _, tok := range tokenRe.FindAllString(strings.ToLower(p), -1) {
			consumed[tok] = true
		}
	}
}
