package plan

import (
	"fmt"
	"strings"
)

// ReissueDirective closes every reissue prompt.
const ReissueDirective = "Return only the corrected plan as JSON: an array of objects with the keys what, why, who, when, where, how, how_much. Do not add any text before or after the JSON."

// ReissuePrompt builds the correction instruction for an invalid plan. It
// lists every error verbatim, compares current metrics with the targets and
// ends with ReissueDirective.
func ReissuePrompt(res ValidationResult, rules Rules) string {
	var b strings.Builder
	b.WriteString("The action plan failed validation. Fix every error below and keep what already passes.\n\n")
	if len(res.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range res.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteByte('\n')
	}
	if len(res.Warnings) > 0 {
		b.WriteString("Warnings (fix if possible):\n")
		for _, w := range res.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
		b.WriteByte('\n')
	}
	m := res.Metrics
	b.WriteString("Current vs target:\n")
	fmt.Fprintf(&b, "- actions: %d (target %d to %d)\n", m.ActionCount, rules.MinActions, rules.MaxActions)
	fmt.Fprintf(&b, "- average steps in \"how\": %.2f (target at least %d in every action)\n", m.AvgHowDepth, rules.MinHowSteps)
	fmt.Fprintf(&b, "- quantifiable signals: %d (target at least %d in every action's why+how)\n", m.KPIsCount, rules.MinSignals)
	b.WriteByte('\n')
	b.WriteString(ReissueDirective)
	return b.String()
}

// ShapePrompt asks for a plan whose JSON could not be read at all.
func ShapePrompt(err error) string {
	return fmt.Sprintf("The action plan could not be read: %v\n\n%s", err, ReissueDirective)
}
