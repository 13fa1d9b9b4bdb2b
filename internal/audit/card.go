// Package audit assembles the audit card attached to every analysis
// response. It only aggregates and formats; every claim it makes comes from a
// field computed upstream.
package audit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/guardrail"
	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

const (
	// MaxMappingRows caps the column mapping table.
	MaxMappingRows = 10
	// MaxGroupRows caps the largest-groups list of each grouped section.
	MaxGroupRows = 5
)

// Input is what the builder aggregates.
type Input struct {
	Telemetry     schema.IngestTelemetry
	Normalization normalize.Result
	Schema        schema.EnrichedSchema
	Ranking       playbook.Ranking
	Playbook      playbook.Playbook
	Decision      guardrail.Decision
	Policy        playbook.Policy
}

// Source describes the uploaded file.
type Source struct {
	Type                string  `json:"type"`
	Name                string  `json:"name,omitempty"`
	SizeBytes           int64   `json:"size_bytes"`
	DetectionConfidence float64 `json:"detection_confidence"`
	Encoding            string  `json:"encoding,omitempty"`
	Dialect             string  `json:"dialect,omitempty"`
	SheetName           string  `json:"sheet_name,omitempty"`
	SheetCount          int     `json:"sheet_count,omitempty"`
	Rows                int     `json:"rows"`
	DiscardedRows       int     `json:"discarded_rows"`
}

// Normalization summarizes header renames and the decimal convention.
type Normalization struct {
	Examples      []normalize.Example `json:"examples,omitempty"`
	DecimalLocale string              `json:"decimal_locale,omitempty"`
	LocaleNote    string              `json:"locale_note,omitempty"`
	Warnings      []string            `json:"warnings,omitempty"`
}

// MappingRow is one line of the column mapping table.
type MappingRow struct {
	Original   string            `json:"original"`
	Normalized string            `json:"normalized"`
	Canonical  string            `json:"canonical,omitempty"`
	Type       schema.ColumnType `json:"type"`
	Confidence float64           `json:"confidence"`
}

// Candidate is a ranked playbook shown next to the selection.
type Candidate struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Selection is the playbook outcome.
type Selection struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Score          int         `json:"score"`
	IsFallback     bool        `json:"is_fallback"`
	MissingColumns []string    `json:"missing_columns,omitempty"`
	Alternatives   []Candidate `json:"alternatives,omitempty"`
}

// SectionGroups lists the largest groups of one grouped section.
type SectionGroups struct {
	Section string                 `json:"section"`
	Groups  []guardrail.GroupCount `json:"groups"`
}

// Guardrails is the full guardrail summary.
type Guardrails struct {
	QualityScore     int                         `json:"quality_score"`
	Completeness     float64                     `json:"completeness"`
	ActiveSections   []string                    `json:"active_sections"`
	DisabledSections []guardrail.DisabledSection `json:"disabled_sections"`
	ExcludedGroups   []guardrail.ExcludedGroup   `json:"excluded_groups,omitempty"`
	LargestGroups    []SectionGroups             `json:"largest_groups,omitempty"`
	Events           []guardrail.Event           `json:"events,omitempty"`
}

// Card is immutable once built.
type Card struct {
	Source          Source        `json:"source"`
	IngestionMethod string        `json:"ingestion_method"`
	Normalization   Normalization `json:"normalization"`
	Mapping         []MappingRow  `json:"mapping"`
	MappingOverflow int           `json:"mapping_overflow,omitempty"`
	Playbook        Selection     `json:"playbook"`
	Guardrails      Guardrails    `json:"guardrails"`
	Limitations     []string      `json:"limitations,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
}

// Build aggregates one request's results into a card.
func Build(in Input) Card {
	tel := in.Telemetry
	c := Card{
		Source: Source{
			Type:                tel.IngestSource,
			Name:                tel.FileName,
			SizeBytes:           tel.FileSizeBytes,
			DetectionConfidence: tel.DetectionConfidence,
			Encoding:            tel.Encoding,
			Dialect:             tel.Dialect,
			SheetName:           tel.SheetName,
			SheetCount:          tel.SheetCount,
			Rows:                tel.RowCount,
			DiscardedRows:       tel.DiscardedRows,
		},
		IngestionMethod: IngestionMethod(tel),
		Normalization: Normalization{
			Examples:      in.Normalization.Examples,
			DecimalLocale: string(in.Normalization.Locale),
			LocaleNote:    localeNote(in.Normalization.Locale),
			Warnings:      in.Normalization.Warnings,
		},
		Mapping: []MappingRow{},
		Playbook: Selection{
			ID:             in.Playbook.ID,
			Name:           in.Playbook.Name,
			Score:          in.Ranking.Selected.Score,
			IsFallback:     in.Ranking.Fallback,
			MissingColumns: in.Ranking.Selected.MissingColumns,
		},
		Guardrails: Guardrails{
			QualityScore:     in.Decision.QualityScore,
			Completeness:     in.Decision.Completeness,
			ActiveSections:   in.Decision.ActiveSections,
			DisabledSections: in.Decision.DisabledSections,
			ExcludedGroups:   in.Decision.ExcludedGroups,
			LargestGroups:    largestGroups(in.Decision.Groups, in.Policy.GroupMinRows),
			Events:           in.Decision.Events,
		},
	}
	for i, col := range in.Schema.Columns {
		if i >= MaxMappingRows {
			c.MappingOverflow = len(in.Schema.Columns) - MaxMappingRows
			break
		}
		c.Mapping = append(c.Mapping, MappingRow{
			Original:   col.OriginalName,
			Normalized: col.NormalizedName,
			Canonical:  col.CanonicalName,
			Type:       col.InferredType,
			Confidence: col.Confidence,
		})
	}
	for _, alt := range in.Ranking.Alternatives {
		c.Playbook.Alternatives = append(c.Playbook.Alternatives, Candidate{ID: alt.PlaybookID, Score: alt.Score})
	}
	c.Limitations = appendUnique(c.Limitations, tel.Limitations...)
	c.Limitations = appendUnique(c.Limitations, tel.IngestWarnings...)
	c.Recommendations = recommendations(in)
	return c
}

// largestGroups keeps the top groups per section in section order. Groups
// under min rows never appear.
func largestGroups(groups map[string][]guardrail.GroupCount, minRows int) []SectionGroups {
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []SectionGroups
	for _, id := range ids {
		top := guardrail.TopN(groups[id], MaxGroupRows, minRows)
		if len(top) == 0 {
			continue
		}
		out = append(out, SectionGroups{Section: id, Groups: top})
	}
	return out
}

// IngestionMethod describes how a format was read.
func IngestionMethod(tel schema.IngestTelemetry) string {
	switch tel.IngestSource {
	case "csv", "tsv", "txt":
		m := "Delimited text parsed row by row"
		if tel.Dialect != "" {
			m += fmt.Sprintf(" with the detected %s dialect", tel.Dialect)
		}
		if tel.Encoding != "" {
			m += fmt.Sprintf(" after decoding from %s", tel.Encoding)
		}
		return m + ". The first row is the header; ragged rows were padded and empty rows discarded."
	case "xlsx", "xls", "ods":
		m := "Spreadsheet cells read directly from the workbook"
		if tel.SheetName != "" {
			m += fmt.Sprintf(" (sheet %q", tel.SheetName)
			if tel.SheetCount > 1 {
				m += fmt.Sprintf(" of %d", tel.SheetCount)
			}
			m += ")"
		}
		return m + ". Date cells stored as serial numbers are re-read as dates when the header names a date."
	case "json":
		return "JSON records flattened into columns, keys in first-seen order. Rows that were not objects were discarded."
	case "docx":
		return "The first table of the Word document was extracted; its first row is the header."
	case "pdf", "pptx":
		return fmt.Sprintf("A table embedded in the %s document was extracted by the upstream reader; layout-based extraction may merge or split cells.", strings.ToUpper(tel.IngestSource))
	case "fixed_width":
		return "Fixed-width text split at detected column boundaries."
	case "":
		return ""
	}
	return fmt.Sprintf("Read by the upstream ingestion service as %s.", tel.IngestSource)
}

func localeNote(l normalize.Locale) string {
	switch l {
	case normalize.LocaleComma:
		return "Decimal comma detected (1.234,56): every numeric column was parsed with a comma as the decimal separator."
	case normalize.LocaleDot:
		return "Decimal point detected (1,234.56): every numeric column was parsed with a dot as the decimal separator."
	}
	return ""
}

func recommendations(in Input) []string {
	var out []string
	if in.Ranking.Fallback {
		msg := fmt.Sprintf("No specialized playbook reached %d%% compatibility, so the generic exploratory analysis was used.", in.Policy.SelectThreshold)
		if len(in.Ranking.Results) > 0 {
			best := in.Ranking.Results[0]
			if len(best.MissingColumns) > 0 {
				msg += fmt.Sprintf(" The closest match, %s (%d%%), is missing: %s.", best.PlaybookID, best.Score, strings.Join(best.MissingColumns, ", "))
			} else if best.RowGated {
				msg += fmt.Sprintf(" The closest match, %s, needs at least %d rows.", best.PlaybookID, best.MinRows)
			}
		}
		out = append(out, msg)
	}
	if n := in.Telemetry.DiscardedRows; n > 0 {
		out = append(out, fmt.Sprintf("%d row(s) were discarded during ingestion; check the source for empty or malformed lines.", n))
	}
	for _, ds := range in.Decision.DisabledSections {
		out = append(out, fmt.Sprintf("To enable %s: %s", ds.Section, ds.CallToAction))
	}
	for _, ev := range in.Decision.Events {
		if ev.Kind == guardrail.EventMixedColumn {
			out = append(out, fmt.Sprintf("Clean column %q so its values share one type.", ev.Subject))
		}
	}
	if in.Telemetry.SheetCount > 1 {
		out = append(out, fmt.Sprintf("The workbook has %d sheets; export each sheet individually to analyze them separately.", in.Telemetry.SheetCount))
	}
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}
