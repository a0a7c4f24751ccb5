package openings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogue(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)
	assert.Greater(t, c.Len(), 20)
}

func TestMatchBasic(t *testing.T) {
	c := MustLoad()
	got := c.Match("Show me King's Indian games where white is rated at least 2800")
	require.NotEmpty(t, got)
	assert.Equal(t, "kings_indian_defence", got[0].Slug)
	assert.Equal(t, "E60", got[0].ECOLo)
	assert.Equal(t, "E99", got[0].ECOHi)
}

func TestMatchLongestAliasWins(t *testing.T) {
	c := MustLoad()
	got := c.Match("classic sicilian najdorf battles")
	require.NotEmpty(t, got)
	assert.Equal(t, "sicilian_najdorf", got[0].Slug, "variation beats the parent opening")
	// The parent still matches, after the more specific entry.
	slugs := make([]string, len(got))
	for i, o := range got {
		slugs[i] = o.Slug
	}
	assert.Contains(t, slugs, "sicilian_defence")
}

func TestMatchCaseInsensitive(t *testing.T) {
	c := MustLoad()
	assert.NotEmpty(t, c.Match("BERLIN DEFENCE endgames"))
	assert.NotEmpty(t, c.Match("berlin defence endgames"))
}

func TestMatchNoOpening(t *testing.T) {
	c := MustLoad()
	assert.Empty(t, c.Match("games where white wins quickly"))
}

func TestMatchDeterministic(t *testing.T) {
	c := MustLoad()
	const text = "queen's gambit declined and slav structures"
	first := c.Match(text)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Match(text))
	}
}

func TestByECONarrowestRangeWins(t *testing.T) {
	c := MustLoad()

	o, ok := c.ByECO("B97")
	require.True(t, ok)
	assert.Equal(t, "sicilian_najdorf", o.Slug, "B97 sits inside both the Sicilian and Najdorf ranges")

	o, ok = c.ByECO("B25")
	require.True(t, ok)
	assert.Equal(t, "sicilian_defence", o.Slug)

	o, ok = c.ByECO("e97")
	require.True(t, ok, "lookup is case-insensitive")
	assert.Equal(t, "kings_indian_defence", o.Slug)
}

func TestByECOUnknownCode(t *testing.T) {
	c := MustLoad()
	_, ok := c.ByECO("Z99")
	assert.False(t, ok)
	_, ok = c.ByECO("")
	assert.False(t, ok)
}
