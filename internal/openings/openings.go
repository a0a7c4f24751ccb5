// Package openings holds the embedded opening catalogue used by the
// intent analyser to turn free text into opening and ECO-range filters.
package openings

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed openings.yaml
var catalogueYAML []byte

// Opening is one catalogue entry. ECOLo/ECOHi bound the ECO codes the
// opening covers, inclusive on both ends.
type Opening struct {
	Slug    string   `yaml:"slug"`
	Name    string   `yaml:"name"`
	ECOLo   string   `yaml:"eco_lo"`
	ECOHi   string   `yaml:"eco_hi"`
	Aliases []string `yaml:"aliases"`
}

// Catalogue matches question text against known openings.
type Catalogue struct {
	openings []Opening
	// alias → index into openings, longest alias first for matching.
	aliases []aliasEntry
}

type aliasEntry struct {
	text string
	idx  int
}

// Load parses the embedded catalogue. It fails only if the embedded
// file is malformed, which is a build defect.
func Load() (*Catalogue, error) {
	var doc struct {
		Openings []Opening `yaml:"openings"`
	}
	if err := yaml.Unmarshal(catalogueYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse opening catalogue: %w", err)
	}

	c := &Catalogue{openings: doc.Openings}
	for i, o := range doc.Openings {
		for _, a := range o.Aliases {
			c.aliases = append(c.aliases, aliasEntry{text: strings.ToLower(a), idx: i})
		}
		c.aliases = append(c.aliases, aliasEntry{text: strings.ToLower(o.Name), idx: i})
	}
	// Longer aliases first so "sicilian najdorf" wins over "sicilian";
	// ties break lexically for determinism.
	sort.Slice(c.aliases, func(i, j int) bool {
		if len(c.aliases[i].text) != len(c.aliases[j].text) {
			return len(c.aliases[i].text) > len(c.aliases[j].text)
		}
		return c.aliases[i].text < c.aliases[j].text
	})
	return c, nil
}

// MustLoad is Load for package wiring at startup.
func MustLoad() *Catalogue {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Len reports the number of catalogue entries.
func (c *Catalogue) Len() int { return len(c.openings) }

// ByECO returns the catalogue entry covering the given ECO code. When
// ranges overlap the narrowest one wins, so "B97" resolves to the
// Najdorf rather than the whole Sicilian.
func (c *Catalogue) ByECO(code string) (Opening, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return Opening{}, false
	}
	var best Opening
	found := false
	for _, o := range c.openings {
		if code < o.ECOLo || code > o.ECOHi {
			continue
		}
		if !found || span(o) < span(best) {
			best = o
			found = true
		}
	}
	return best, found
}

func span(o Opening) int {
	return int(o.ECOHi[0]-o.ECOLo[0])*100 + atoi2(o.ECOHi[1:]) - atoi2(o.ECOLo[1:])
}

func atoi2(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// Match returns the openings whose aliases appear in the text,
// longest alias first, at most one entry per opening. The output
// order is stable for identical input.
func (c *Catalogue) Match(text string) []Opening {
	lower := strings.ToLower(text)
	var out []Opening
	seen := make(map[string]bool)
	for _, a := range c.aliases {
		if !strings.Contains(lower, a.text) {
			continue
		}
		o := c.openings[a.idx]
		if seen[o.Slug] {
			continue
		}
		seen[o.Slug] = true
		out = append(out, o)
	}
	return out
}
