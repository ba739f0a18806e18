package policy

import (
	"strings"

	"github.com/stratamem/strata/pkg/types"
)

// Route is the routing decision for one event. Every event goes to the
// archive; only strong-signal user statements additionally become
// recall candidates.
type Route struct {
	ToArchive bool
	ToRecall  bool

	// Kind is the recall kind suggested by the matched rule.
	Kind types.Kind
	// Rule names the matched rule, for logging.
	Rule string
}

// routeRule is one predicate in the strong-signal table. A rule
// matches when any of its markers appears in the lowercased content.
type routeRule struct {
	name    string
	kind    types.Kind
	markers []string
}

// routeRules is evaluated in order, first match wins. The order is the
// signal priority: an explicit remember instruction outranks a stated
// preference, which outranks a goal, and so on.
var routeRules = []routeRule{
	{
		name: "remember-instruction",
		kind: types.KindFact,
		markers: []string{
			"remember that", "remember this", "remember my", "remember i",
			"don't forget", "do not forget", "keep in mind", "make a note",
			"note that",
		},
	},
	{
		name: "preference-boundary",
		kind: types.KindPreference,
		markers: []string{
			"call me ", "refer to me", "i prefer", "i'd prefer",
			"i would prefer", "i'd rather", "i like ", "i love ",
			"i hate ", "i don't like", "i dislike", "i can't stand",
			"please don't", "please do not", "stop doing", "never ask",
			"don't ever",
		},
	},
	{
		name: "goal-commitment",
		kind: types.KindGoal,
		markers: []string{
			"my goal", "i want to", "i want you to", "i plan to",
			"i'm planning", "i intend to", "i'm going to", "i aim to",
			"i will ", "i'm committed", "i promised",
		},
	},
	{
		name: "relationship-change",
		kind: types.KindRelationship,
		markers: []string{
			"my wife", "my husband", "my partner", "my boyfriend",
			"my girlfriend", "my fiance", "my boss", "my manager",
			"we broke up", "we got married", "we got engaged",
			"we got divorced", "we're divorced", "i got married",
			"i got divorced", "no longer together",
		},
	},
	{
		name: "corrected-conclusion",
		kind: types.KindFact,
		markers: []string{
			"actually,", "actually ", "correction:", "i meant",
			"that's wrong", "that is wrong", "that's not right",
			"to be clear", "to clarify", "let me correct",
		},
	},
}

// Route decides where an event lands. The archive always takes it;
// recall eligibility requires a user-authored statement of substance
// that matches a strong-signal rule.
func (e *Engine) Route(event types.Event) Route {
	r := Route{ToArchive: true}

	if event.Role != types.RoleUser {
		return r
	}
	content := strings.ToLower(strings.TrimSpace(event.Content))
	if len([]rune(content)) < e.cfg.MinRecallLength {
		return r
	}

	for _, rule := range routeRules {
		for _, marker := range rule.markers {
			if strings.Contains(content, marker) {
				r.ToRecall = true
				r.Kind = rule.kind
				r.Rule = rule.name
				return r
			}
		}
	}
	return r
}
