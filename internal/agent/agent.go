// Package agent scores retrieved games against the question with an
// LLM and caches the verdicts keyed on (plan digest, game id).
package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/chessmate/chessmate/internal/intent"
	"github.com/chessmate/chessmate/internal/metrics"
	"github.com/chessmate/chessmate/internal/retry"
)

// Evaluation outcomes reported alongside query results.
const (
	StatusDisabled    = "disabled"
	StatusEnabled     = "enabled"
	StatusTimeout     = "timeout"
	StatusError       = "error"
	StatusCircuitOpen = "circuit_open"
)

// Candidate is one game handed to the evaluator.
type Candidate struct {
	GameID  int64
	Summary string
	PGN     string
}

// Evaluation is the model's verdict on one game.
type Evaluation struct {
	GameID      int64    `json:"game_id"`
	Score       float64  `json:"score"`
	Explanation string   `json:"explanation,omitempty"`
	Themes      []string `json:"themes,omitempty"`
}

// Config holds evaluator settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	RequestTimeout time.Duration
}

// Evaluator calls the chat completions API and parses strict JSON
// verdicts out of the reply.
type Evaluator struct {
	client *openai.Client
	model  string
	policy retry.Policy
	log    *zap.Logger
}

// pgnExcerptLimit bounds how much of each game's movetext goes into
// the prompt so large games cannot blow the context window.
const pgnExcerptLimit = 1500

// NewEvaluator builds the OpenAI-backed evaluator.
func NewEvaluator(cfg Config, logger *zap.Logger) *Evaluator {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		// The SDK retries twice on its own; all retrying happens in our
		// envelope so upstream calls stay bounded by its MaxAttempts.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Evaluator{
		client: &client,
		model:  cfg.Model,
		policy: retry.DefaultPolicy(),
		log:    logger,
	}
}

const systemPrompt = `You are a chess analyst. Score each candidate game for how well it
answers the user's question. Respond with JSON only, in the form
{"evaluations":[{"game_id":<int>,"score":<0..1>,"explanation":"...","themes":["..."]}]}.
Score every game you are given; omit none unless a game is unusable.`

// Evaluate scores the candidates. Transient API failures are retried
// with backoff up to the policy's attempt budget; malformed JSON is
// terminal.
func (e *Evaluator) Evaluate(ctx context.Context, plan intent.Plan, candidates []Candidate) ([]Evaluation, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	start := time.Now()

	prompt := buildPrompt(plan, candidates)
	var content string
	err := retry.Do(ctx, e.policy, transientAPIError, func() error {
		resp, err := e.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(e.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(prompt),
			},
		})
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty completion response")
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		metrics.RecordAgentEvaluation("error", time.Since(start).Seconds())
		return nil, err
	}

	evals, err := ParseEvaluations(content)
	if err != nil {
		metrics.RecordAgentEvaluation("parse_error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordAgentEvaluation("ok", time.Since(start).Seconds())
	e.log.Debug("Agent evaluation complete",
		zap.Int("candidates", len(candidates)),
		zap.Int("scored", len(evals)),
		zap.Duration("duration", time.Since(start)),
	)
	return evals, nil
}

func transientAPIError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	// Treat transport failures as transient; context errors abort the
	// retry loop inside retry.Do regardless.
	return true
}

func buildPrompt(plan intent.Plan, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("Question constraints:\n")
	for _, f := range plan.Filters {
		fmt.Fprintf(&b, "- %s: %s\n", f.Field, f.Value)
	}
	if len(plan.Keywords) > 0 {
		fmt.Fprintf(&b, "- keywords: %s\n", strings.Join(plan.Keywords, ", "))
	}
	b.WriteString("\nCandidate games:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "\n[game_id=%d] %s\n%s\n", c.GameID, c.Summary, excerpt(c.PGN))
	}
	return b.String()
}

func excerpt(pgn string) string {
	if len(pgn) <= pgnExcerptLimit {
		return pgn
	}
	return pgn[:pgnExcerptLimit] + " ..."
}
