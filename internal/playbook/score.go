package playbook

import (
	"fmt"
	"sort"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// Policy holds the tunable thresholds of selection and guardrails.
type Policy struct {
	SelectThreshold      int `json:"select_threshold" yaml:"select_threshold"`
	AlternativeThreshold int `json:"alternative_threshold" yaml:"alternative_threshold"`
	// MinRows applies to playbooks that declare no min_rows of their own.
	MinRows int `json:"min_rows" yaml:"min_rows"`
	// GateCap is the ceiling for scores of playbooks that fail the row gate.
	GateCap      int `json:"gate_cap" yaml:"gate_cap"`
	GroupMinRows int `json:"group_min_rows" yaml:"group_min_rows"`
	SampleSize   int `json:"sample_size" yaml:"sample_size"`
	MaxReissues  int `json:"max_reissues" yaml:"max_reissues"`
}

// MaxReissuesCap bounds any configured re-issue budget.
const MaxReissuesCap = 3

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SelectThreshold:      80,
		AlternativeThreshold: 60,
		MinRows:              10,
		GateCap:              59,
		GroupMinRows:         10,
		SampleSize:           100,
		MaxReissues:          1,
	}
}

// Validate checks the thresholds are coherent.
func (p Policy) Validate() error {
	switch {
	case p.SelectThreshold < 1 || p.SelectThreshold > 100:
		return fmt.Errorf("select_threshold must be in [1, 100], got %d", p.SelectThreshold)
	case p.AlternativeThreshold < 0 || p.AlternativeThreshold >= p.SelectThreshold:
		return fmt.Errorf("alternative_threshold must be in [0, select_threshold), got %d", p.AlternativeThreshold)
	case p.GateCap >= p.SelectThreshold:
		return fmt.Errorf("gate_cap %d must stay below select_threshold %d", p.GateCap, p.SelectThreshold)
	case p.MinRows < 0 || p.GroupMinRows < 0 || p.SampleSize < 0:
		return fmt.Errorf("row and sample minimums must not be negative")
	case p.MaxReissues < 0 || p.MaxReissues > MaxReissuesCap:
		return fmt.Errorf("max_reissues must be in [0, %d], got %d", MaxReissuesCap, p.MaxReissues)
	}
	return nil
}

// TypeMismatch is a canonical hit whose inferred type does not satisfy the requirement.
type TypeMismatch struct {
	Column   string            `json:"column"`
	Source   string            `json:"source"`
	Required schema.ColumnType `json:"required"`
	Found    schema.ColumnType `json:"found"`
}

// Result is the compatibility of one playbook with one schema.
type Result struct {
	PlaybookID     string         `json:"playbook_id"`
	Score          int            `json:"score"`
	MatchedColumns []string       `json:"matched_columns"`
	MissingColumns []string       `json:"missing_columns"`
	TypeMismatches []TypeMismatch `json:"type_mismatches,omitempty"`
	RowGated       bool           `json:"row_gated,omitempty"`
	MinRows        int            `json:"min_rows"`
}

// Ranking orders every registered playbook and records the selection.
type Ranking struct {
	Results      []Result `json:"results"`
	Selected     Result   `json:"selected"`
	Alternatives []Result `json:"alternatives,omitempty"`
	Fallback     bool     `json:"fallback"`
}

// Evaluate scores one playbook. Score is floor(matched/total*100) so a
// partial match never rounds up across a threshold.
func Evaluate(p Playbook, s schema.EnrichedSchema, rowCount int, pol Policy) Result {
	res := Result{
		PlaybookID:     p.ID,
		MatchedColumns: []string{},
		MissingColumns: []string{},
		MinRows:        p.MinRows,
	}
	if res.MinRows <= 0 {
		res.MinRows = pol.MinRows
	}
	for _, req := range p.RequiredColumns {
		cols := s.ByCanonical(req.Name)
		if len(cols) == 0 {
			res.MissingColumns = append(res.MissingColumns, req.Name)
			continue
		}
		matched := false
		for _, c := range cols {
			if req.Type.Accepts(c.InferredType) {
				matched = true
				break
			}
		}
		if matched {
			res.MatchedColumns = append(res.MatchedColumns, req.Name)
			continue
		}
		res.MissingColumns = append(res.MissingColumns, req.Name)
		res.TypeMismatches = append(res.TypeMismatches, TypeMismatch{
			Column:   req.Name,
			Source:   cols[0].OriginalName,
			Required: req.Type,
			Found:    cols[0].InferredType,
		})
	}
	if total := len(p.RequiredColumns); total > 0 {
		res.Score = len(res.MatchedColumns) * 100 / total
	}
	if rowCount < res.MinRows {
		res.RowGated = true
		res.Score = min(res.Score, pol.GateCap)
	}
	return res
}

// Score ranks every playbook of the registry: score desc, matched count desc,
// then registry order. The best playbook at or above the select threshold is
// selected; otherwise the ranking falls back to the generic playbook.
func Score(s schema.EnrichedSchema, rowCount int, reg *Registry, pol Policy) Ranking {
	pbs := reg.Playbooks()
	results := make([]Result, len(pbs))
	for i, p := range pbs {
		results[i] = Evaluate(p, s, rowCount, pol)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return len(results[i].MatchedColumns) > len(results[j].MatchedColumns)
	})

	rk := Ranking{Results: results}
	for _, r := range results {
		switch {
		case r.Score >= pol.SelectThreshold && rk.Selected.PlaybookID == "":
			rk.Selected = r
		case r.Score >= pol.AlternativeThreshold:
			rk.Alternatives = append(rk.Alternatives, r)
		}
	}
	if rk.Selected.PlaybookID == "" {
		rk.Fallback = true
		rk.Selected = Result{
			PlaybookID:     GenericID,
			MatchedColumns: []string{},
			MissingColumns: []string{},
		}
	}
	return rk
}
