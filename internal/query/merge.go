package query

import (
	"strings"

	"github.com/chessmate/chessmate/internal/vectordb"
)

// collapseHits merges vector hits sharing a game id: the merged score
// is the max, the payload lists are the case-insensitive union in
// first-seen order.
func collapseHits(hits []vectordb.Hit) map[int64]vectordb.Hit {
	out := make(map[int64]vectordb.Hit, len(hits))
	for _, h := range hits {
		prev, ok := out[h.GameID]
		if !ok {
			out[h.GameID] = vectordb.Hit{
				GameID:   h.GameID,
				Score:    h.Score,
				Phases:   unionFold(nil, h.Phases),
				Themes:   unionFold(nil, h.Themes),
				Keywords: unionFold(nil, h.Keywords),
			}
			continue
		}
		if h.Score > prev.Score {
			prev.Score = h.Score
		}
		prev.Phases = unionFold(prev.Phases, h.Phases)
		prev.Themes = unionFold(prev.Themes, h.Themes)
		prev.Keywords = unionFold(prev.Keywords, h.Keywords)
		out[h.GameID] = prev
	}
	return out
}

// unionFold appends the additions not already present, comparing
// case-insensitively and keeping the first-seen casing.
func unionFold(base, additions []string) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	out := base
	for _, s := range additions {
		k := strings.ToLower(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
	}
	return out
}
