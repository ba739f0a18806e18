// Package policy is the decision component of the memory engine. Every
// function is pure over the state it is handed: the engine never reads
// a store, which keeps decisions deterministic and directly testable.
//
// Informal priority rules ("an explicit remember instruction beats a
// stated preference") are expressed as ordered rule tables evaluated
// first-match-wins, not as open-ended dispatch.
package policy

import "time"

// Config holds the tunable policy parameters. Zero values select
// defaults via Normalize.
type Config struct {
	// MatchThreshold is the minimum lexical similarity for a candidate
	// to be considered the same fact-slot as an existing item and
	// supersede it.
	MatchThreshold float64 `yaml:"match_threshold"`

	// UpdateThreshold is the similarity at or above which the candidate
	// is treated as a restatement and updates the item in place instead
	// of superseding it.
	UpdateThreshold float64 `yaml:"update_threshold"`

	// ConsolidateTurns triggers consolidation every N turns of a
	// session. 0 disables the turn-count trigger; session end always
	// triggers.
	ConsolidateTurns int `yaml:"consolidate_turns"`

	// MinRecallLength is the minimum trimmed content length for an
	// event to be eligible for the recall tier.
	MinRecallLength int `yaml:"min_recall_length"`

	// DecayFactor scales confidence and importance on each decay step.
	DecayFactor float64 `yaml:"decay_factor"`

	// ImportanceFloor deactivates items whose importance has decayed
	// below it.
	ImportanceFloor float64 `yaml:"importance_floor"`

	// SupersedeBoost is added to importance when a new item supersedes
	// an old one; restated facts matter more.
	SupersedeBoost float64 `yaml:"supersede_boost"`

	// StaleAfter is the idle period after which an item decays.
	StaleAfter time.Duration `yaml:"stale_after"`

	// DeactivateAfter is the idle period after which an item is
	// deactivated outright.
	DeactivateAfter time.Duration `yaml:"deactivate_after"`

	// PurgeAfter is how long a deactivated item is retained for audit
	// before the forget policy proposes deletion.
	PurgeAfter time.Duration `yaml:"purge_after"`

	// ReactivateOnConfirm reactivates a decayed-inactive item when the
	// user explicitly reconfirms it. Off by default: reconfirmation
	// only updates last_confirmed_at.
	ReactivateOnConfirm bool `yaml:"reactivate_on_confirm"`

	// AllowRecallEdits gates direct user edits of recall content.
	AllowRecallEdits bool `yaml:"allow_recall_edits"`
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.35
	}
	if c.UpdateThreshold <= 0 {
		c.UpdateThreshold = 0.90
	}
	if c.ConsolidateTurns < 0 {
		c.ConsolidateTurns = 0
	}
	if c.MinRecallLength <= 0 {
		c.MinRecallLength = 5
	}
	if c.DecayFactor <= 0 || c.DecayFactor >= 1 {
		c.DecayFactor = 0.85
	}
	if c.ImportanceFloor <= 0 {
		c.ImportanceFloor = 0.15
	}
	if c.SupersedeBoost <= 0 {
		c.SupersedeBoost = 0.10
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * 24 * time.Hour
	}
	if c.DeactivateAfter <= 0 {
		c.DeactivateAfter = 90 * 24 * time.Hour
	}
	if c.PurgeAfter <= 0 {
		c.PurgeAfter = 365 * 24 * time.Hour
	}
}

// DefaultConfig returns a Config with every default applied. Edits to
// the recall tier are allowed by default, matching the permissive
// stance of a single-operator deployment.
func DefaultConfig() Config {
	c := Config{AllowRecallEdits: true}
	c.Normalize()
	return c
}

// Engine evaluates policy decisions. Safe for concurrent use: it holds
// only immutable configuration.
type Engine struct {
	cfg Config
}

// New creates an engine, normalizing the config.
func New(cfg Config) *Engine {
	cfg.Normalize()
	return &Engine{cfg: cfg}
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// SessionState is the per-session progress the consolidation trigger
// evaluates.
type SessionState struct {
	Ended bool
	Turns int
}

// ShouldConsolidate reports whether consolidation should run now:
// always at session end, and every ConsolidateTurns turns otherwise.
func (e *Engine) ShouldConsolidate(state SessionState) bool {
	if state.Ended {
		return true
	}
	if e.cfg.ConsolidateTurns == 0 || state.Turns == 0 {
		return false
	}
	return state.Turns%e.cfg.ConsolidateTurns == 0
}

// AllowEdit reports whether direct user edits to the given tier are
// permitted. The archive tier is append-only and never editable.
func (e *Engine) AllowEdit(tier string) bool {
	switch tier {
	case "recall":
		return e.cfg.AllowRecallEdits
	default:
		return false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
