// Package guardrail decides which analysis sections of the winning playbook
// may run, and why the others may not.
//
// Evaluation is pure: identical inputs give identical decisions, with every
// list in a deterministic order and no clock or randomness involved.
package guardrail

import (
	"fmt"
	"math"
	"sort"

	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// Input is everything the evaluator looks at.
type Input struct {
	Playbook playbook.Playbook
	Ranking  playbook.Ranking
	Schema   schema.EnrichedSchema
	Stats    schema.DatasetStats
	// Groups holds row counts per group value for sections with a GroupBy, keyed by section id.
	Groups map[string]map[string]int
}

// DisabledSection explains a suppressed section and how to enable it.
type DisabledSection struct {
	Section            string            `json:"section"`
	Title              string            `json:"title,omitempty"`
	Reason             string            `json:"reason"`
	MissingRequirement string            `json:"missing_requirement"`
	RequiredType       schema.ColumnType `json:"required_type,omitempty"`
	CallToAction       string            `json:"call_to_action"`
}

// GroupCount is one group of a grouped section.
type GroupCount struct {
	Group string `json:"group"`
	Rows  int    `json:"rows"`
}

// ExcludedGroup is a group dropped for having too few rows.
type ExcludedGroup struct {
	Section string `json:"section"`
	Group   string `json:"group"`
	Rows    int    `json:"rows"`
}

// Event kinds.
const (
	EventFallback      = "fallback_playbook"
	EventRowGate       = "row_gate"
	EventTypeMismatch  = "type_mismatch"
	EventMixedColumn   = "mixed_column"
	EventSerialDate    = "serial_date"
	EventSmallGroups   = "small_sample_groups"
	EventPrecondition  = "precondition_error"
	EventNoValidGroups = "no_valid_groups"
)

// Event is a recorded guardrail intervention.
type Event struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject,omitempty"`
	Detail  string `json:"detail"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	PlaybookID       string                  `json:"playbook_id"`
	IsFallback       bool                    `json:"is_fallback"`
	ActiveSections   []string                `json:"active_sections"`
	DisabledSections []DisabledSection       `json:"disabled_sections"`
	QualityScore     int                     `json:"quality_score"`
	Completeness     float64                 `json:"completeness"`
	Groups           map[string][]GroupCount `json:"groups,omitempty"`
	ExcludedGroups   []ExcludedGroup         `json:"excluded_groups,omitempty"`
	Events           []Event                 `json:"events,omitempty"`
}

// IsActive reports whether a section survived evaluation.
func (d Decision) IsActive(section string) bool {
	for _, s := range d.ActiveSections {
		if s == section {
			return true
		}
	}
	return false
}

// Evaluate runs every section precondition of the winning playbook.
func Evaluate(in Input, pol playbook.Policy) Decision {
	d := Decision{
		PlaybookID:       in.Playbook.ID,
		IsFallback:       in.Ranking.Fallback,
		ActiveSections:   []string{},
		DisabledSections: []DisabledSection{},
	}
	facts := playbook.NewFacts(in.Schema, in.Stats.RowCount)

	for _, sec := range in.Playbook.Sections {
		ds, evErr := check(sec, in.Schema, facts)
		if evErr != "" {
			d.Events = append(d.Events, Event{Kind: EventPrecondition, Subject: sec.ID, Detail: evErr})
		}
		if ds != nil {
			d.DisabledSections = append(d.DisabledSections, *ds)
			continue
		}
		d.ActiveSections = append(d.ActiveSections, sec.ID)
		if sec.GroupBy == "" {
			continue
		}
		kept, excluded := FilterGroups(in.Groups[sec.ID], pol.GroupMinRows)
		if d.Groups == nil {
			d.Groups = map[string][]GroupCount{}
		}
		d.Groups[sec.ID] = kept
		for _, g := range excluded {
			d.ExcludedGroups = append(d.ExcludedGroups, ExcludedGroup{Section: sec.ID, Group: g.Group, Rows: g.Rows})
		}
		if len(excluded) > 0 {
			d.Events = append(d.Events, Event{
				Kind:    EventSmallGroups,
				Subject: sec.ID,
				Detail:  fmt.Sprintf("%d group(s) of %s with fewer than %d rows were excluded", len(excluded), sec.GroupBy, pol.GroupMinRows),
			})
		}
		if len(kept) == 0 && len(excluded) > 0 {
			d.Events = append(d.Events, Event{
				Kind:    EventNoValidGroups,
				Subject: sec.ID,
				Detail:  fmt.Sprintf("no group of %s reaches %d rows; the section has nothing to rank", sec.GroupBy, pol.GroupMinRows),
			})
		}
	}

	d.Events = append(d.Events, rankingEvents(in, pol)...)
	d.Events = append(d.Events, schemaEvents(in.Schema)...)

	d.Completeness = completeness(in)
	enabled := 1.0
	if n := len(in.Playbook.Sections); n > 0 {
		enabled = float64(len(d.ActiveSections)) / float64(n)
	}
	d.QualityScore = QualityScore(d.Completeness, in.Ranking.Selected.Score, enabled)
	return d
}

// QualityScore is round(100 * (0.4*completeness + 0.4*compat/100 + 0.2*enabled)).
func QualityScore(completeness float64, compat int, enabled float64) int {
	q := 100 * (0.4*clamp01(completeness) + 0.4*clamp01(float64(compat)/100) + 0.2*clamp01(enabled))
	return int(math.Round(q))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

// check returns nil when the section may run. The second value carries a
// precondition evaluation error, if any; such sections are disabled.
func check(sec playbook.Section, s schema.EnrichedSchema, facts playbook.Facts) (*DisabledSection, string) {
	pre := sec.Precondition
	disabled := func(reason, missing string, t schema.ColumnType, cta string) *DisabledSection {
		if sec.Reason != "" {
			reason = sec.Reason
		}
		if sec.CallToAction != "" {
			cta = sec.CallToAction
		}
		if t == schema.TypeAny {
			t = ""
		}
		return &DisabledSection{Section: sec.ID, Title: sec.Title, Reason: reason, MissingRequirement: missing, RequiredType: t, CallToAction: cta}
	}

	if pre.RequiredType != "" && !s.HasType(pre.RequiredType) {
		reason := fmt.Sprintf("No column with inferred type %s was found.", pre.RequiredType)
		if pre.Suggest != "" {
			if cols := s.ByCanonical(pre.Suggest); len(cols) > 0 {
				reason = fmt.Sprintf("Column %q maps to %s but was inferred as %s, and no other %s column exists.",
					cols[0].OriginalName, pre.Suggest, cols[0].InferredType, pre.RequiredType)
			}
		}
		missing := pre.Suggest
		if missing == "" {
			missing = fmt.Sprintf("a %s column", pre.RequiredType)
		}
		return disabled(reason, missing, pre.RequiredType, addColumnCTA(missing, pre.RequiredType)), ""
	}

	for _, req := range pre.Columns {
		cols := s.ByCanonical(req.Name)
		if len(cols) == 0 {
			return disabled(fmt.Sprintf("Required column %s was not found.", req.Name), req.Name, req.Type, addColumnCTA(req.Name, req.Type)), ""
		}
		if !anyAccepted(req.Type, cols) {
			return disabled(fmt.Sprintf("Column %q maps to %s but was inferred as %s; %s is required.",
				cols[0].OriginalName, req.Name, cols[0].InferredType, req.Type),
				req.Name, req.Type,
				fmt.Sprintf("Fix the values of %q so they read as %s.", cols[0].OriginalName, req.Type)), ""
		}
	}

	if pre.MinRows > 0 && facts.RowCount < pre.MinRows {
		reason := fmt.Sprintf("The section needs at least %d rows; the dataset has %d.", pre.MinRows, facts.RowCount)
		return disabled(reason, fmt.Sprintf("row_count >= %d", pre.MinRows), "",
			fmt.Sprintf("Provide at least %d rows.", pre.MinRows)), ""
	}

	ok, err := pre.EvalExpr(facts)
	if err != nil || !ok {
		reason := fmt.Sprintf("Precondition %q is not met.", pre.Expr)
		missing := pre.Suggest
		if missing == "" {
			missing = pre.Expr
		}
		evErr := ""
		if err != nil {
			evErr = err.Error()
		}
		return disabled(reason, missing, "", "Provide data that satisfies: "+pre.Expr), evErr
	}
	return nil, ""
}

func anyAccepted(t schema.ColumnType, cols []schema.EnrichedColumn) bool {
	for _, c := range cols {
		if t.Accepts(c.InferredType) {
			return true
		}
	}
	return false
}

func addColumnCTA(name string, t schema.ColumnType) string {
	if t == "" || t == schema.TypeAny {
		return fmt.Sprintf("Add a column that maps to %s.", name)
	}
	return fmt.Sprintf("Add a column that maps to %s with %s values.", name, t)
}

// completeness is 1 - null rate averaged over the matched required columns,
// or over every column for playbooks without requirements.
func completeness(in Input) float64 {
	var idx []int
	if len(in.Playbook.RequiredColumns) == 0 {
		for _, c := range in.Schema.Columns {
			idx = append(idx, c.Index)
		}
	} else {
		for _, req := range in.Playbook.RequiredColumns {
			for _, c := range in.Schema.ByCanonical(req.Name) {
				if req.Type.Accepts(c.InferredType) {
					idx = append(idx, c.Index)
					break
				}
			}
		}
	}
	if len(idx) == 0 {
		return 0
	}
	var sum float64
	for _, i := range idx {
		if i < 0 || i >= len(in.Stats.Columns) {
			continue
		}
		sum += 1 - in.Stats.Columns[i].NullRate()
	}
	return sum / float64(len(idx))
}

func rankingEvents(in Input, pol playbook.Policy) []Event {
	var out []Event
	rk := in.Ranking
	if rk.Fallback {
		best := "no registered playbook"
		if len(rk.Results) > 0 {
			best = fmt.Sprintf("best was %s at %d", rk.Results[0].PlaybookID, rk.Results[0].Score)
		}
		out = append(out, Event{
			Kind:    EventFallback,
			Subject: playbook.GenericID,
			Detail:  fmt.Sprintf("no playbook reached the selection threshold of %d (%s); using descriptive analysis only", pol.SelectThreshold, best),
		})
	}
	for _, r := range rk.Results {
		if r.RowGated && len(r.MatchedColumns) > 0 {
			out = append(out, Event{
				Kind:    EventRowGate,
				Subject: r.PlaybookID,
				Detail:  fmt.Sprintf("dataset has %d rows, below the minimum of %d; score capped at %d", in.Stats.RowCount, r.MinRows, r.Score),
			})
		}
	}
	seen := map[string]bool{}
	var mm []playbook.TypeMismatch
	for _, r := range rk.Results {
		for _, m := range r.TypeMismatches {
			k := m.Column + "|" + string(m.Required)
			if !seen[k] {
				seen[k] = true
				mm = append(mm, m)
			}
		}
	}
	sort.Slice(mm, func(i, j int) bool {
		if mm[i].Column != mm[j].Column {
			return mm[i].Column < mm[j].Column
		}
		return mm[i].Required < mm[j].Required
	})
	for _, m := range mm {
		out = append(out, Event{
			Kind:    EventTypeMismatch,
			Subject: m.Column,
			Detail:  fmt.Sprintf("column %q maps to %s but was inferred as %s; a %s column is required, so it was not counted", m.Source, m.Column, m.Found, m.Required),
		})
	}
	return out
}

func schemaEvents(s schema.EnrichedSchema) []Event {
	var out []Event
	for _, c := range s.Columns {
		if c.InferredType == schema.TypeMixed {
			out = append(out, Event{
				Kind:    EventMixedColumn,
				Subject: c.NormalizedName,
				Detail:  fmt.Sprintf("column %q mixes value types and cannot satisfy typed requirements", c.OriginalName),
			})
		}
		if c.SerialDate {
			out = append(out, Event{
				Kind:    EventSerialDate,
				Subject: c.NormalizedName,
				Detail:  fmt.Sprintf("column %q holds spreadsheet serial numbers and was read as dates because its header names a date; serials under other headers stay numeric", c.OriginalName),
			})
		}
	}
	return out
}
