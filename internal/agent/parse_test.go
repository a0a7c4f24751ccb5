package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvaluations(t *testing.T) {
	evals, err := ParseEvaluations(`{"evaluations":[
		{"game_id":1,"score":0.9,"explanation":"sharp attack","themes":["tactics"]},
		{"game_id":2,"score":0.4}
	]}`)
	require.NoError(t, err)
	require.Len(t, evals, 2)
	assert.Equal(t, int64(1), evals[0].GameID)
	assert.InDelta(t, 0.9, evals[0].Score, 1e-9)
	assert.Equal(t, "sharp attack", evals[0].Explanation)
	assert.Equal(t, []string{"tactics"}, evals[0].Themes)
	assert.Empty(t, evals[1].Explanation)
}

func TestParseEvaluationsClampsScore(t *testing.T) {
	evals, err := ParseEvaluations(`{"evaluations":[
		{"game_id":1,"score":1.7},
		{"game_id":2,"score":-0.3}
	]}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, evals[0].Score)
	assert.Equal(t, 0.0, evals[1].Score)
}

func TestParseEvaluationsIgnoresUnknownFields(t *testing.T) {
	evals, err := ParseEvaluations(`{"evaluations":[
		{"game_id":1,"score":0.5,"confidence":"high","extra":{"a":1}}
	],"model_notes":"ignored"}`)
	require.NoError(t, err)
	require.Len(t, evals, 1)
}

func TestParseEvaluationsStripsCodeFence(t *testing.T) {
	evals, err := ParseEvaluations("```json\n{\"evaluations\":[{\"game_id\":3,\"score\":0.2}]}\n```")
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, int64(3), evals[0].GameID)
}

func TestParseEvaluationsRejectsMalformed(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"not json", "certainly! here are the scores"},
		{"no evaluations key", `{"scores":[]}`},
		{"evaluations not array", `{"evaluations":{"game_id":1}}`},
		{"missing game_id", `{"evaluations":[{"score":0.5}]}`},
		{"game_id not numeric", `{"evaluations":[{"game_id":"one","score":0.5}]}`},
		{"missing score", `{"evaluations":[{"game_id":1}]}`},
		{"score not numeric", `{"evaluations":[{"game_id":1,"score":"high"}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseEvaluations(tc.content)
			assert.Error(t, err)
		})
	}
}
