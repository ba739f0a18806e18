package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stratamem/strata/pkg/types"
)

// candidateResponse mirrors the JSON shape the prompts request. The
// score fields are pointers so an omitted field is distinguishable
// from an explicit 0.
type candidateResponse struct {
	Kind       string   `json:"kind"`
	Title      string   `json:"title"`
	Content    string   `json:"content"`
	Confidence *float64 `json:"confidence"`
	Importance *float64 `json:"importance"`
}

type consolidationResponse struct {
	Candidates []candidateResponse `json:"candidates"`
}

// ParseCandidate parses a distillation response into one candidate.
// fallbackKind fills in when the model omits or invents a kind.
func ParseCandidate(text string, fallbackKind types.Kind) (*types.RecallCandidate, error) {
	var resp candidateResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse candidate response: %w", err)
	}

	cand, ok := toCandidate(resp, fallbackKind)
	if !ok {
		return nil, fmt.Errorf("candidate response has no content")
	}
	return &cand, nil
}

// ParseCandidates parses a consolidation response. Candidates with
// empty content are dropped; unknown kinds fall back to fact; the list
// is capped at max.
func ParseCandidates(text string, max int) ([]types.RecallCandidate, error) {
	var resp consolidationResponse
	if err := json.Unmarshal([]byte(extractJSON(text)), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse consolidation response: %w", err)
	}

	var cands []types.RecallCandidate
	for _, raw := range resp.Candidates {
		if max > 0 && len(cands) >= max {
			break
		}
		if cand, ok := toCandidate(raw, types.KindFact); ok {
			cands = append(cands, cand)
		}
	}
	return cands, nil
}

func toCandidate(raw candidateResponse, fallbackKind types.Kind) (types.RecallCandidate, bool) {
	content := strings.TrimSpace(raw.Content)
	if content == "" {
		return types.RecallCandidate{}, false
	}

	kind := types.Kind(strings.ToLower(strings.TrimSpace(raw.Kind)))
	if !types.ValidKind(kind) {
		kind = fallbackKind
	}
	return types.RecallCandidate{
		Kind:       kind,
		Title:      strings.TrimSpace(raw.Title),
		Content:    content,
		Confidence: clampScore(raw.Confidence, 0.7),
		Importance: clampScore(raw.Importance, 0.5),
	}, true
}

// clampScore bounds a model-supplied score to [0,1], substituting a
// default when the model omitted the field. An explicit 0 survives.
func clampScore(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	if *v < 0 {
		return 0
	}
	if *v > 1 {
		return 1
	}
	return *v
}

// extractJSON pulls the first balanced JSON object out of a response
// that may wrap it in markdown fences or prose. Models add both
// despite instructions.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if escape {
			escape = false
			continue
		}
		switch {
		case ch == '\\':
			escape = true
		case ch == '"':
			inString = !inString
		case !inString && ch == '{':
			depth++
		case !inString && ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text[start:]
}
