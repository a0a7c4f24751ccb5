package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseEvaluations decodes the model reply. The envelope must be an
// object with an "evaluations" array; each element needs a numeric
// game_id and score. Unknown fields are ignored, structural
// violations are errors so a confabulated reply never reaches the
// scorer.
func ParseEvaluations(content string) ([]Evaluation, error) {
	content = stripCodeFence(content)

	var envelope struct {
		Evaluations json.RawMessage `json:"evaluations"`
	}
	if err := json.Unmarshal([]byte(content), &envelope); err != nil {
		return nil, fmt.Errorf("agent reply is not a JSON object: %w", err)
	}
	if len(envelope.Evaluations) == 0 {
		return nil, fmt.Errorf("agent reply has no evaluations array")
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(envelope.Evaluations, &raw); err != nil {
		return nil, fmt.Errorf("evaluations is not an array of objects: %w", err)
	}

	out := make([]Evaluation, 0, len(raw))
	for i, entry := range raw {
		var ev Evaluation

		idRaw, ok := entry["game_id"]
		if !ok {
			return nil, fmt.Errorf("evaluation %d missing game_id", i)
		}
		if err := json.Unmarshal(idRaw, &ev.GameID); err != nil {
			return nil, fmt.Errorf("evaluation %d game_id not numeric: %w", i, err)
		}

		scoreRaw, ok := entry["score"]
		if !ok {
			return nil, fmt.Errorf("evaluation %d missing score", i)
		}
		if err := json.Unmarshal(scoreRaw, &ev.Score); err != nil {
			return nil, fmt.Errorf("evaluation %d score not numeric: %w", i, err)
		}
		if ev.Score < 0 {
			ev.Score = 0
		}
		if ev.Score > 1 {
			ev.Score = 1
		}

		if raw, ok := entry["explanation"]; ok {
			_ = json.Unmarshal(raw, &ev.Explanation)
		}
		if raw, ok := entry["themes"]; ok {
			_ = json.Unmarshal(raw, &ev.Themes)
		}
		out = append(out, ev)
	}
	return out, nil
}

// stripCodeFence tolerates replies wrapped in a markdown fence, which
// some models emit even when told not to.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
