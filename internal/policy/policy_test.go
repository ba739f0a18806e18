package policy

import (
	"math"
	"testing"
	"time"

	"github.com/stratamem/strata/pkg/types"
)

func TestRouteStrongSignals(t *testing.T) {
	engine := New(Config{})

	tests := []struct {
		name     string
		event    types.Event
		toRecall bool
		kind     types.Kind
	}{
		{
			name:     "preferred name",
			event:    types.Event{Role: types.RoleUser, Content: "Call me Kai, not my legal name"},
			toRecall: true,
			kind:     types.KindPreference,
		},
		{
			name:     "remember instruction",
			event:    types.Event{Role: types.RoleUser, Content: "Remember that I'm allergic to shellfish"},
			toRecall: true,
			kind:     types.KindFact,
		},
		{
			name:     "stated preference",
			event:    types.Event{Role: types.RoleUser, Content: "I prefer short answers without preamble"},
			toRecall: true,
			kind:     types.KindPreference,
		},
		{
			name:     "goal statement",
			event:    types.Event{Role: types.RoleUser, Content: "My goal is to run a marathon next spring"},
			toRecall: true,
			kind:     types.KindGoal,
		},
		{
			name:     "relationship change",
			event:    types.Event{Role: types.RoleUser, Content: "We broke up last month, by the way"},
			toRecall: true,
			kind:     types.KindRelationship,
		},
		{
			name:     "correction",
			event:    types.Event{Role: types.RoleUser, Content: "Actually, the meeting is on Thursday"},
			toRecall: true,
			kind:     types.KindFact,
		},
		{
			name:     "ordinary chatter",
			event:    types.Event{Role: types.RoleUser, Content: "What's the weather like today over there?"},
			toRecall: false,
		},
		{
			name:     "assistant statement never routed",
			event:    types.Event{Role: types.RoleAssistant, Content: "Remember that I'm here to help"},
			toRecall: false,
		},
		{
			name:     "too short",
			event:    types.Event{Role: types.RoleUser, Content: "ok"},
			toRecall: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := engine.Route(tt.event)
			if !r.ToArchive {
				t.Error("ToArchive = false, every event must archive")
			}
			if r.ToRecall != tt.toRecall {
				t.Errorf("ToRecall = %v, want %v", r.ToRecall, tt.toRecall)
			}
			if tt.toRecall && r.Kind != tt.kind {
				t.Errorf("Kind = %s, want %s", r.Kind, tt.kind)
			}
		})
	}
}

func TestRoutePriorityOrder(t *testing.T) {
	engine := New(Config{})

	// Contains both a remember instruction and a preference marker;
	// the remember rule is evaluated first and must win.
	r := engine.Route(types.Event{
		Role:    types.RoleUser,
		Content: "Remember that I prefer tea over coffee",
	})
	if !r.ToRecall {
		t.Fatal("ToRecall = false")
	}
	if r.Rule != "remember-instruction" {
		t.Errorf("Rule = %s, want remember-instruction", r.Rule)
	}
}

func TestShouldConsolidate(t *testing.T) {
	engine := New(Config{ConsolidateTurns: 10})

	tests := []struct {
		name  string
		state SessionState
		want  bool
	}{
		{"session end", SessionState{Ended: true}, true},
		{"session end at zero turns", SessionState{Ended: true, Turns: 0}, true},
		{"turn threshold", SessionState{Turns: 10}, true},
		{"threshold multiple", SessionState{Turns: 20}, true},
		{"mid-session", SessionState{Turns: 7}, false},
		{"no turns", SessionState{Turns: 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.ShouldConsolidate(tt.state); got != tt.want {
				t.Errorf("ShouldConsolidate(%+v) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}

	disabled := New(Config{ConsolidateTurns: -1})
	if disabled.ShouldConsolidate(SessionState{Turns: 100}) {
		t.Error("turn trigger fired with ConsolidateTurns disabled")
	}
}

func activeItem(id string, kind types.Kind, content string) *types.RecallItem {
	return &types.RecallItem{
		ID:         id,
		AgentID:    "agent-1",
		Kind:       kind,
		Content:    content,
		Confidence: 0.8,
		Importance: 0.5,
		IsActive:   true,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
}

func TestPlanUpsertCreateWhenNothingMatches(t *testing.T) {
	engine := New(Config{})
	cand := types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers to be called Kai",
		Confidence: 0.9,
		Importance: 0.6,
	}

	plan := engine.PlanUpsert(cand, []*types.RecallItem{
		activeItem("other", types.KindPreference, "likes espresso in the morning"),
	})
	if plan.Action != ActionCreate {
		t.Errorf("Action = %s, want create", plan.Action)
	}
	if plan.Target != nil {
		t.Errorf("Target = %v, want nil", plan.Target)
	}
}

func TestPlanUpsertUpdateOnRestatement(t *testing.T) {
	engine := New(Config{})
	existing := activeItem("item-1", types.KindPreference, "prefers to be called Kai")
	cand := types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers to be called Kai",
		Confidence: 0.95,
		Importance: 0.6,
	}

	plan := engine.PlanUpsert(cand, []*types.RecallItem{existing})
	if plan.Action != ActionUpdate {
		t.Fatalf("Action = %s, want update", plan.Action)
	}
	if plan.Target == nil || plan.Target.ID != "item-1" {
		t.Errorf("Target = %v, want item-1", plan.Target)
	}
}

func TestPlanUpsertSupersedeOnConflict(t *testing.T) {
	engine := New(Config{})
	existing := activeItem("item-1", types.KindPreference, "prefers to be called Kaiden")
	existing.Importance = 0.5
	existing.Evidence = types.EvidenceRef{RecordID: "rec-1", SessionID: "s-1", TurnID: 3}

	cand := types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers to be called Kai",
		Confidence: 0.9,
		Importance: 0.4,
	}

	plan := engine.PlanUpsert(cand, []*types.RecallItem{existing})
	if plan.Action != ActionSupersede {
		t.Fatalf("Action = %s, want supersede", plan.Action)
	}
	if plan.Target.ID != "item-1" {
		t.Errorf("Target.ID = %s, want item-1", plan.Target.ID)
	}
	// Importance takes the max of candidate and target plus the boost.
	if want := 0.6; math.Abs(plan.Candidate.Importance-want) > 1e-9 {
		t.Errorf("Importance = %v, want %v", plan.Candidate.Importance, want)
	}
	// Candidate had no evidence; the target's carries forward.
	if plan.Candidate.Evidence.RecordID != "rec-1" {
		t.Errorf("Evidence.RecordID = %s, want rec-1", plan.Candidate.Evidence.RecordID)
	}
}

func TestPlanUpsertIgnoresOtherKindsAndInactive(t *testing.T) {
	engine := New(Config{})
	wrongKind := activeItem("wrong-kind", types.KindFact, "prefers to be called Kai")
	inactive := activeItem("inactive", types.KindPreference, "prefers to be called Kai")
	inactive.IsActive = false

	cand := types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers to be called Kai",
		Confidence: 0.9,
	}
	plan := engine.PlanUpsert(cand, []*types.RecallItem{wrongKind, inactive})
	if plan.Action != ActionCreate {
		t.Errorf("Action = %s, want create", plan.Action)
	}
}

func TestPlanUpsertTieBreaksByLastConfirmed(t *testing.T) {
	engine := New(Config{})
	older := activeItem("older", types.KindPreference, "prefers to be called Kaiden")
	newer := activeItem("newer", types.KindPreference, "prefers to be called Kaiden")
	confirmed := time.Now().Add(-time.Minute)
	newer.LastConfirmedAt = &confirmed

	cand := types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers to be called Kai",
		Confidence: 0.9,
	}
	plan := engine.PlanUpsert(cand, []*types.RecallItem{older, newer})
	if plan.Action != ActionSupersede {
		t.Fatalf("Action = %s, want supersede", plan.Action)
	}
	if plan.Target.ID != "newer" {
		t.Errorf("Target.ID = %s, want newer (most recently confirmed)", plan.Target.ID)
	}
}

func TestPlanUpsertFlagsHighRiskContent(t *testing.T) {
	engine := New(Config{})

	tests := []struct {
		name    string
		content string
	}{
		{"email", "reach me at kai@example.com from now on"},
		{"ssn", "my social is 123-45-6789"},
		{"identity change", "goes by Kai, not my legal name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := engine.PlanUpsert(types.RecallCandidate{
				Kind:       types.KindPreference,
				Content:    tt.content,
				Confidence: 0.8,
			}, nil)
			if !plan.RequiresConfirmation {
				t.Error("RequiresConfirmation = false")
			}
			if plan.Candidate.Confidence != 0.4 {
				t.Errorf("Confidence = %v, want 0.4 (halved)", plan.Candidate.Confidence)
			}
		})
	}

	plain := engine.PlanUpsert(types.RecallCandidate{
		Kind:       types.KindPreference,
		Content:    "prefers short answers",
		Confidence: 0.8,
	}, nil)
	if plain.RequiresConfirmation {
		t.Error("plain content flagged as high risk")
	}
}

func TestForgetPolicy(t *testing.T) {
	engine := New(Config{})
	now := time.Now()

	expired := now.Add(-time.Hour)
	longGone := now.Add(-400 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	tests := []struct {
		name string
		item *types.RecallItem
		want ForgetAction
	}{
		{
			name: "fresh item kept",
			item: &types.RecallItem{IsActive: true, Importance: 0.5, CreatedAt: recent},
			want: ForgetKeep,
		},
		{
			name: "expired validity deactivates",
			item: &types.RecallItem{IsActive: true, Importance: 0.5, CreatedAt: recent, ValidTo: &expired},
			want: ForgetDeactivate,
		},
		{
			name: "importance below floor deactivates",
			item: &types.RecallItem{IsActive: true, Importance: 0.05, CreatedAt: recent},
			want: ForgetDeactivate,
		},
		{
			name: "long idle deactivates",
			item: &types.RecallItem{IsActive: true, Importance: 0.5, CreatedAt: now.Add(-120 * 24 * time.Hour)},
			want: ForgetDeactivate,
		},
		{
			name: "stale decays",
			item: &types.RecallItem{IsActive: true, Importance: 0.5, CreatedAt: now.Add(-45 * 24 * time.Hour)},
			want: ForgetDecay,
		},
		{
			name: "recent use resets idleness",
			item: &types.RecallItem{
				IsActive: true, Importance: 0.5,
				CreatedAt:  now.Add(-45 * 24 * time.Hour),
				LastUsedAt: &recent,
			},
			want: ForgetKeep,
		},
		{
			name: "inactive kept for audit",
			item: &types.RecallItem{IsActive: false, ValidTo: &expired},
			want: ForgetKeep,
		},
		{
			name: "inactive past retention proposed for deletion",
			item: &types.RecallItem{IsActive: false, ValidTo: &longGone},
			want: ForgetDelete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.ForgetPolicy(tt.item, now); got != tt.want {
				t.Errorf("ForgetPolicy = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClampForget(t *testing.T) {
	tests := []struct {
		requested, proposed, want ForgetAction
	}{
		{ForgetDecay, ForgetDelete, ForgetDecay},
		{ForgetDeactivate, ForgetDelete, ForgetDeactivate},
		{ForgetDelete, ForgetDeactivate, ForgetDeactivate},
		{ForgetDecay, ForgetKeep, ForgetKeep},
		{ForgetDelete, ForgetDelete, ForgetDelete},
	}
	for _, tt := range tests {
		if got := ClampForget(tt.requested, tt.proposed); got != tt.want {
			t.Errorf("ClampForget(%s, %s) = %s, want %s", tt.requested, tt.proposed, got, tt.want)
		}
	}
}

func TestDecay(t *testing.T) {
	engine := New(Config{DecayFactor: 0.5})
	item := &types.RecallItem{Confidence: 0.8, Importance: 0.6}

	conf, imp := engine.Decay(item)
	if conf != 0.4 || imp != 0.3 {
		t.Errorf("Decay = (%v, %v), want (0.4, 0.3)", conf, imp)
	}
}

func TestShouldReactivate(t *testing.T) {
	inactive := &types.RecallItem{IsActive: false}

	off := New(Config{})
	if off.ShouldReactivate(inactive) {
		t.Error("reactivation fired with the hook disabled")
	}

	on := New(Config{ReactivateOnConfirm: true})
	if !on.ShouldReactivate(inactive) {
		t.Error("reactivation did not fire with the hook enabled")
	}
	if on.ShouldReactivate(&types.RecallItem{IsActive: true}) {
		t.Error("reactivation proposed for an already-active item")
	}
}

func TestAllowEdit(t *testing.T) {
	engine := New(DefaultConfig())
	if !engine.AllowEdit("recall") {
		t.Error("recall edits denied under the default config")
	}
	if engine.AllowEdit("archive") {
		t.Error("archive edits allowed; the archive is append-only")
	}

	locked := New(Config{AllowRecallEdits: false})
	if locked.AllowEdit("recall") {
		t.Error("recall edits allowed with the gate off")
	}
}
