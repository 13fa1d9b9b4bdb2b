package normalize

import (
	"fmt"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// maxExamples bounds the before/after header pairs kept for the audit card.
const maxExamples = 3

// Example is one header rename observed during normalization.
type Example struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

// Options controls column normalization.
type Options struct {
	// Locale forces the decimal convention; empty means detect.
	Locale Locale
}

// Result is the normalized shape of a dataset's columns.
type Result struct {
	Columns  []schema.NormalizedColumn
	Locale   Locale
	Examples []Example
	Warnings []string
}

// Names returns the normalized names in column order.
func (r Result) Names() []string {
	out := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = c.NormalizedName
	}
	return out
}

// Columns normalizes headers and decides the dataset-wide decimal locale.
// Empty normalized names become "column_<n>"; duplicates get "_2", "_3", ...
// It never fails: problems are reported as warnings.
func Columns(raw []schema.RawColumn, opt Options) Result {
	res := Result{Columns: make([]schema.NormalizedColumn, len(raw))}
	seen := map[string]int{}
	for i, rc := range raw {
		name := Header(rc.Name)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
			res.Warnings = append(res.Warnings, fmt.Sprintf("column %d has an empty header; named %q", i+1, name))
		}
		if n, dup := seen[name]; dup {
			n++
			for {
				candidate := fmt.Sprintf("%s_%d", name, n)
				if _, taken := seen[candidate]; !taken {
					seen[name] = n
					name = candidate
					break
				}
				n++
			}
			res.Warnings = append(res.Warnings, fmt.Sprintf("duplicate header %q renamed to %q", rc.Name, name))
		}
		seen[name] = max(seen[name], 1)
		res.Columns[i] = schema.NormalizedColumn{OriginalName: rc.Name, NormalizedName: name}
		if len(res.Examples) < maxExamples && strings.TrimSpace(rc.Name) != name {
			res.Examples = append(res.Examples, Example{Before: rc.Name, After: name})
		}
	}

	res.Locale = opt.Locale
	if res.Locale == "" {
		samples := make([][]string, len(raw))
		for i, rc := range raw {
			samples[i] = rc.SampleValues
		}
		res.Locale = DetectLocale(samples)
	}
	return res
}
