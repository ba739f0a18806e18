package types

import "time"

// Kind classifies what a recall item represents.
type Kind string

const (
	KindFact         Kind = "fact"
	KindPreference   Kind = "preference"
	KindRelationship Kind = "relationship"
	KindGoal         Kind = "goal"
	KindRule         Kind = "rule"
	KindSummary      Kind = "summary"
)

// ValidKind reports whether k is one of the known recall kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindFact, KindPreference, KindRelationship, KindGoal, KindRule, KindSummary:
		return true
	}
	return false
}

// EvidenceRef is a back-pointer from a recall item to the archival
// record(s) it was derived from. It is a reference, never an ownership
// edge: deleting the archive side leaves the recall item intact.
type EvidenceRef struct {
	RecordID  string `json:"record_id,omitempty"`  // Archival record ID
	SessionID string `json:"session_id,omitempty"` // Session the evidence came from
	TurnID    int    `json:"turn_id,omitempty"`    // Turn within the session
}

// IsZero reports whether the reference points at nothing.
func (r EvidenceRef) IsZero() bool {
	return r.RecordID == "" && r.SessionID == "" && r.TurnID == 0
}

// RecallItem is a conclusion-type memory: a short, reusable statement
// (preference, rule, goal, relationship fact) kept in the hot tier and
// retrieved by similarity. Items are partitioned by AgentID; no
// operation may cross that boundary.
type RecallItem struct {
	// Identity
	ID      string `json:"id"`       // Unique within the agent scope
	AgentID string `json:"agent_id"` // Partition key

	// Content
	Kind    Kind   `json:"kind"`
	Title   string `json:"title,omitempty"` // Optional short label
	Content string `json:"content"`         // Short text optimized for direct use

	// Ranking signals, both in [0.0, 1.0] and mutable over the item's life.
	Confidence float64 `json:"confidence"`
	Importance float64 `json:"importance"`

	// IsActive gates retrieval. Inactive items are excluded from every
	// retrieval path but retained for audit; supersession and decay
	// deactivate rather than delete.
	IsActive bool `json:"is_active"`

	// Validity window. A nil ValidTo means open-ended.
	ValidFrom time.Time  `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to,omitempty"`

	// Usage timestamps
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`      // Updated on retrieval hit
	LastConfirmedAt *time.Time `json:"last_confirmed_at,omitempty"` // Updated on explicit reconfirmation

	// Evidence is the provenance back-reference into the archive tier.
	Evidence EvidenceRef `json:"evidence,omitempty"`

	// Embedding of Content. May be empty when the embedding client was
	// unavailable at write time; such items are re-embedded on the next
	// maintenance pass.
	Embedding      []float32 `json:"embedding,omitempty"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the item's validity window has closed at now.
func (it *RecallItem) Expired(now time.Time) bool {
	return it.ValidTo != nil && !it.ValidTo.IsZero() && it.ValidTo.Before(now)
}

// RecallCandidate is a proposed recall item before the policy engine has
// decided how it lands (create, update, or supersede an existing item).
type RecallCandidate struct {
	Kind       Kind        `json:"kind"`
	Title      string      `json:"title,omitempty"`
	Content    string      `json:"content"`
	Confidence float64     `json:"confidence"`
	Importance float64     `json:"importance"`
	Evidence   EvidenceRef `json:"evidence,omitempty"`
}
