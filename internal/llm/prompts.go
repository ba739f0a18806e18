package llm

import (
	"fmt"
	"strings"

	"github.com/stratamem/strata/pkg/types"
)

const distillTemplate = `You maintain long-term memory for a conversational agent.
Rewrite the user statement below as one short, reusable conclusion written in third person
(e.g. "prefers to be called Kai"). Keep it under 120 characters.

Respond with ONLY a JSON object, no explanations:
{"kind": "%s", "title": "<short label>", "content": "<the conclusion>", "confidence": <0.0-1.0>, "importance": <0.0-1.0>}

User statement:
%s`

// DistillPrompt asks the model to turn one routed user statement into
// a recall candidate of the given kind.
func DistillPrompt(content string, kind types.Kind) string {
	return fmt.Sprintf(distillTemplate, kind, content)
}

const consolidateHeader = `You maintain long-term memory for a conversational agent.
Below are recent conversation turns and the conclusions already on file.
Propose between %d and %d NEW conclusions worth keeping long-term: stable preferences,
goals, relationship facts, rules, or corrections. Do not repeat conclusions already on
file unless the conversation contradicts them. Each conclusion must be short, reusable,
and written in third person.

Valid kinds: fact, preference, relationship, goal, rule, summary.

Respond with ONLY a JSON object, no explanations:
{"candidates": [{"kind": "...", "title": "...", "content": "...", "confidence": <0.0-1.0>, "importance": <0.0-1.0>}]}
`

// ConsolidationPrompt builds the session consolidation prompt from the
// recent archive slice and the current recall items.
func ConsolidationPrompt(records []*types.ArchivalRecord, items []*types.RecallItem, minCandidates, maxCandidates int) string {
	var b strings.Builder
	fmt.Fprintf(&b, consolidateHeader, minCandidates, maxCandidates)

	b.WriteString("\nConclusions already on file:\n")
	if len(items) == 0 {
		b.WriteString("(none)\n")
	}
	for _, item := range items {
		fmt.Fprintf(&b, "- [%s] %s\n", item.Kind, item.Content)
	}

	b.WriteString("\nRecent conversation:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "%s: %s\n", rec.Role, rec.Content)
	}
	return b.String()
}
