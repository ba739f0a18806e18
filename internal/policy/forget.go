package policy

import (
	"time"

	"github.com/stratamem/strata/pkg/types"
)

// ForgetAction is what the forget policy proposes for one item, in
// increasing order of severity.
type ForgetAction string

const (
	ForgetKeep       ForgetAction = "keep"
	ForgetDecay      ForgetAction = "decay"
	ForgetDeactivate ForgetAction = "deactivate"
	ForgetDelete     ForgetAction = "delete"
)

var forgetSeverity = map[ForgetAction]int{
	ForgetKeep:       0,
	ForgetDecay:      1,
	ForgetDeactivate: 2,
	ForgetDelete:     3,
}

// ClampForget caps a proposed action at the severity the caller
// requested. A user asking for decay never gets a deletion.
func ClampForget(requested, proposed ForgetAction) ForgetAction {
	if forgetSeverity[proposed] > forgetSeverity[requested] {
		return requested
	}
	return proposed
}

// ForgetPolicy evaluates one item against the retention rules, first
// match wins:
//
//  1. inactive and past the audit retention window: delete
//  2. inactive otherwise: keep (retained for audit)
//  3. validity window closed: deactivate
//  4. importance below the floor: deactivate
//  5. idle past DeactivateAfter: deactivate
//  6. idle past StaleAfter: decay
//  7. otherwise: keep
//
// Idleness is measured from the latest of last_used_at,
// last_confirmed_at, and created_at.
func (e *Engine) ForgetPolicy(item *types.RecallItem, now time.Time) ForgetAction {
	if item == nil {
		return ForgetKeep
	}

	if !item.IsActive {
		if item.ValidTo != nil && now.Sub(*item.ValidTo) > e.cfg.PurgeAfter {
			return ForgetDelete
		}
		return ForgetKeep
	}

	if item.Expired(now) {
		return ForgetDeactivate
	}
	if item.Importance < e.cfg.ImportanceFloor {
		return ForgetDeactivate
	}

	idle := now.Sub(lastTouch(item))
	if idle > e.cfg.DeactivateAfter {
		return ForgetDeactivate
	}
	if idle > e.cfg.StaleAfter {
		return ForgetDecay
	}
	return ForgetKeep
}

// Decay returns the item's scores after one decay step.
func (e *Engine) Decay(item *types.RecallItem) (confidence, importance float64) {
	return clamp01(item.Confidence * e.cfg.DecayFactor),
		clamp01(item.Importance * e.cfg.DecayFactor)
}

// ShouldReactivate reports whether an explicit reconfirmation of an
// inactive item should flip it back to active. Controlled by
// configuration; default is no, reconfirmation only records the
// timestamp.
func (e *Engine) ShouldReactivate(item *types.RecallItem) bool {
	return e.cfg.ReactivateOnConfirm && item != nil && !item.IsActive
}

func lastTouch(item *types.RecallItem) time.Time {
	t := item.CreatedAt
	if item.LastUsedAt != nil && item.LastUsedAt.After(t) {
		t = *item.LastUsedAt
	}
	if item.LastConfirmedAt != nil && item.LastConfirmedAt.After(t) {
		t = *item.LastConfirmedAt
	}
	return t
}
