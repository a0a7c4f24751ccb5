package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/chessmate/chessmate/internal/intent"
)

// fakeCompletions serves the chat completions endpoint with a canned
// reply body.
func fakeCompletions(t *testing.T, reply string) *Evaluator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]interface{}{"role": "assistant", "content": reply},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)
	return NewEvaluator(Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"}, zaptest.NewLogger(t))
}

func TestEvaluateParsesReply(t *testing.T) {
	e := fakeCompletions(t, `{"evaluations":[{"game_id":1,"score":0.8,"themes":["tactics"]}]}`)

	evals, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{
		{GameID: 1, Summary: "Kasparov vs Karpov", PGN: "1. e4 e5"},
	})
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, int64(1), evals[0].GameID)
	assert.InDelta(t, 0.8, evals[0].Score, 1e-9)
}

func TestEvaluateRejectsMalformedReply(t *testing.T) {
	e := fakeCompletions(t, "the first game looks great!")

	_, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{
		{GameID: 1, Summary: "Kasparov vs Karpov", PGN: "1. e4 e5"},
	})
	require.Error(t, err)
}

func TestEvaluateBoundsUpstreamCalls(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{"message": "overloaded", "type": "server_error"},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewEvaluator(Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"}, zaptest.NewLogger(t))
	e.policy.Sleep = func(time.Duration) {}

	_, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{
		{GameID: 1, Summary: "Kasparov vs Karpov", PGN: "1. e4 e5"},
	})
	require.Error(t, err)
	// The SDK's own retries are off, so the attempt budget is the only
	// thing standing between us and the upstream.
	assert.Equal(t, int32(e.policy.MaxAttempts), atomic.LoadInt32(&calls))
}

func TestEvaluateRecoversFromTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"message": "overloaded", "type": "server_error"},
			})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "cmpl-test",
			"object": "chat.completion",
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message": map[string]interface{}{
						"role":    "assistant",
						"content": `{"evaluations":[{"game_id":1,"score":0.6}]}`,
					},
				},
			},
		})
	}))
	t.Cleanup(srv.Close)

	e := NewEvaluator(Config{APIKey: "test", BaseURL: srv.URL, Model: "gpt-4o-mini"}, zaptest.NewLogger(t))
	e.policy.Sleep = func(time.Duration) {}

	evals, err := e.Evaluate(context.Background(), intent.Plan{}, []Candidate{
		{GameID: 1, Summary: "Kasparov vs Karpov", PGN: "1. e4 e5"},
	})
	require.NoError(t, err)
	require.Len(t, evals, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestEvaluateEmptyCandidates(t *testing.T) {
	e := fakeCompletions(t, `{"evaluations":[]}`)
	evals, err := e.Evaluate(context.Background(), intent.Plan{}, nil)
	require.NoError(t, err)
	assert.Nil(t, evals)
}

func TestBuildPromptBoundsPGN(t *testing.T) {
	long := make([]byte, pgnExcerptLimit*3)
	for i := range long {
		long[i] = 'x'
	}
	prompt := buildPrompt(intent.Plan{
		Filters:  []intent.Filter{{Field: "opening", Value: "berlin_defence"}},
		Keywords: []string{"endgame"},
	}, []Candidate{{GameID: 1, Summary: "A vs B", PGN: string(long)}})

	assert.Contains(t, prompt, "opening: berlin_defence")
	assert.Contains(t, prompt, "[game_id=1]")
	assert.Less(t, len(prompt), pgnExcerptLimit*2, "oversized movetext truncated")
}
