package policy

import (
	"math"
	"regexp"
	"strings"

	"github.com/stratamem/strata/pkg/types"
)

// Action is what an upsert plan does with its candidate.
type Action string

const (
	// ActionCreate inserts a new item; nothing matched.
	ActionCreate Action = "create"
	// ActionUpdate rewrites the matched item's content, confidence,
	// and importance in place. Kind and id never change.
	ActionUpdate Action = "update"
	// ActionSupersede deactivates the matched item and creates a new
	// one with boosted importance.
	ActionSupersede Action = "supersede"
)

// UpsertPlan is the engine's decision for one candidate. Candidate
// carries any policy adjustments (lowered confidence on high-risk
// content, importance boost on supersession); the caller applies the
// plan, it never re-derives these values.
type UpsertPlan struct {
	Action Action

	// Target is the matched existing item for update and supersede.
	Target *types.RecallItem

	// Candidate is the adjusted candidate to write.
	Candidate types.RecallCandidate

	// Score is the lexical similarity to Target, 0 for create.
	Score float64

	// RequiresConfirmation flags high-risk content (PII or an
	// identity-change statement). The item is still written, at
	// halved confidence; the caller surfaces the flag so the change
	// can be confirmed externally.
	RequiresConfirmation bool
}

// PlanUpsert decides how a candidate lands against the agent's
// existing items: restatements update in place, conflicting statements
// about the same fact-slot supersede, everything else creates.
// Matching considers only active items of the same kind.
func (e *Engine) PlanUpsert(cand types.RecallCandidate, existing []*types.RecallItem) UpsertPlan {
	plan := UpsertPlan{Action: ActionCreate, Candidate: cand}

	if highRisk(cand.Content) {
		plan.RequiresConfirmation = true
		plan.Candidate.Confidence = cand.Confidence * 0.5
	}
	plan.Candidate.Confidence = clamp01(plan.Candidate.Confidence)
	plan.Candidate.Importance = clamp01(plan.Candidate.Importance)

	target, score := e.bestMatch(plan.Candidate, existing)
	if target == nil || score < e.cfg.MatchThreshold {
		return plan
	}

	plan.Target = target
	plan.Score = score

	if score >= e.cfg.UpdateThreshold {
		plan.Action = ActionUpdate
		return plan
	}

	plan.Action = ActionSupersede
	plan.Candidate.Importance = clamp01(math.Max(plan.Candidate.Importance, target.Importance) + e.cfg.SupersedeBoost)
	if plan.Candidate.Evidence.IsZero() {
		plan.Candidate.Evidence = target.Evidence
	}
	return plan
}

// bestMatch returns the active same-kind item most lexically similar
// to the candidate. Equal scores prefer the most recently confirmed
// item.
func (e *Engine) bestMatch(cand types.RecallCandidate, existing []*types.RecallItem) (*types.RecallItem, float64) {
	candTokens := tokenize(cand.Title + " " + cand.Content)
	if len(candTokens) == 0 {
		return nil, 0
	}

	var (
		best  *types.RecallItem
		score float64
	)
	for _, item := range existing {
		if item == nil || !item.IsActive || item.Kind != cand.Kind {
			continue
		}
		s := jaccard(candTokens, tokenize(item.Title+" "+item.Content))
		switch {
		case s > score:
			best, score = item, s
		case s == score && s > 0 && confirmedAfter(item, best):
			best = item
		}
	}
	return best, score
}

func confirmedAfter(a, b *types.RecallItem) bool {
	if b == nil {
		return true
	}
	if a.LastConfirmedAt == nil {
		return false
	}
	return b.LastConfirmedAt == nil || a.LastConfirmedAt.After(*b.LastConfirmedAt)
}

var tokenSplit = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// tokenize lowercases and splits on non-alphanumerics, dropping
// single-character fragments.
func tokenize(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(strings.ToLower(s), -1) {
		if len([]rune(tok)) >= 2 {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// jaccard is |a ∩ b| / |a ∪ b| over token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// piiPatterns detect concrete identifiers that should not be silently
// promoted into long-term memory.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.-]+`),           // email
	regexp.MustCompile(`\b\+?\d{1,3}[-. ]?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`), // phone
	regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),              // US SSN
	regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`),             // payment card
}

// identityMarkers flag statements that change who the user claims to
// be; those warrant confirmation before overriding prior identity
// facts.
var identityMarkers = []string{
	"my legal name", "my real name", "my new name", "i changed my name",
	"i am actually", "i'm actually", "my actual name",
}

func highRisk(content string) bool {
	for _, p := range piiPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	lower := strings.ToLower(content)
	for _, m := range identityMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
