package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chessmate/chessmate/internal/db"
)

func TestResultListFieldsSerialiseAsArrays(t *testing.T) {
	// A candidate without a vector hit has no themes, phases or
	// keywords; those fields still encode as [] rather than null.
	raw, err := json.Marshal(toResult(scored{game: kingsIndianGame(1, 2870)}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"themes":[]`)
	assert.Contains(t, string(raw), `"phases":[]`)
	assert.Contains(t, string(raw), `"keywords":[]`)
}

func TestExecuteFallbackResultsSerialiseAsArrays(t *testing.T) {
	plan := kingsIndianPlan(t)
	deps := baseDeps(t, []db.GameRow{kingsIndianGame(1, 2870)}, 1, nil)

	out, err := Execute(context.Background(), plan, deps)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)

	raw, err := json.Marshal(out.Results[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"themes":null`)
	assert.NotContains(t, string(raw), `"phases":null`)
	assert.NotContains(t, string(raw), `"keywords":null`)
}

func TestKeywordComponentMatchesMetadata(t *testing.T) {
	plan := kingsIndianPlan(t)
	plan.Keywords = []string{"karpov", "tal"}
	got := keywordComponent(plan, kingsIndianGame(1, 2870), nil)
	assert.InDelta(t, 0.5, got, 1e-9, "one of two keywords found in metadata")
}
