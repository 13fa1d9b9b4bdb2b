package audit_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/KaramelBytes/playbook-guard/internal/audit"
	"github.com/KaramelBytes/playbook-guard/internal/guardrail"
	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput(cols int) audit.Input {
	var s schema.EnrichedSchema
	for i := 0; i < cols; i++ {
		s.Columns = append(s.Columns, schema.EnrichedColumn{
			NormalizedColumn: schema.NormalizedColumn{
				OriginalName:   fmt.Sprintf("Col %d", i+1),
				NormalizedName: fmt.Sprintf("col %d", i+1),
				InferredType:   schema.TypeNumeric,
				Confidence:     1,
			},
			Index: i,
		})
	}
	return audit.Input{
		Telemetry: schema.IngestTelemetry{
			IngestSource:        "xlsx",
			FileName:            "estoque.xlsx",
			FileSizeBytes:       2048,
			DetectionConfidence: 1,
			RowCount:            150,
			DiscardedRows:       2,
			SheetName:           "Março",
			SheetCount:          3,
			Limitations:         []string{"only the first 100000 rows were read"},
		},
		Normalization: normalize.Result{
			Locale:   normalize.LocaleComma,
			Examples: []normalize.Example{{Before: "Saldo Anterior (Unid.)", After: "saldo anterior"}},
		},
		Schema: s,
		Ranking: playbook.Ranking{
			Selected: playbook.Result{PlaybookID: "pb_estoque_divergencias_v1", Score: 100},
		},
		Playbook: playbook.Playbook{ID: "pb_estoque_divergencias_v1", Name: "Inventory divergences"},
		Decision: guardrail.Decision{
			PlaybookID:     "pb_estoque_divergencias_v1",
			QualityScore:   88,
			Completeness:   0.95,
			ActiveSections: []string{"overview", "divergence_by_sku"},
			DisabledSections: []guardrail.DisabledSection{{
				Section: "temporal_trend", Reason: "No column with inferred type date was found.",
				MissingRequirement: "movement_date", RequiredType: schema.TypeDate,
				CallToAction: "Add a column with movement dates.",
			}},
		},
		Policy: playbook.DefaultPolicy(),
	}
}

func TestMappingTableIsCapped(t *testing.T) {
	card := audit.Build(sampleInput(12))
	assert.Len(t, card.Mapping, audit.MaxMappingRows)
	assert.Equal(t, 2, card.MappingOverflow)
	assert.Contains(t, card.Markdown(), "…and 2 more column(s) not shown.")

	card = audit.Build(sampleInput(4))
	assert.Len(t, card.Mapping, 4)
	assert.Zero(t, card.MappingOverflow)
	assert.NotContains(t, card.Markdown(), "more column(s)")
}

func TestRecommendations(t *testing.T) {
	card := audit.Build(sampleInput(3))
	require.Len(t, card.Recommendations, 3)
	assert.Contains(t, card.Recommendations[0], "2 row(s) were discarded")
	assert.Equal(t, "To enable temporal_trend: Add a column with movement dates.", card.Recommendations[1])
	assert.Contains(t, card.Recommendations[2], "export each sheet individually")
}

func TestFallbackRecommendationNamesClosestMatch(t *testing.T) {
	in := sampleInput(3)
	in.Telemetry.DiscardedRows = 0
	in.Telemetry.SheetCount = 1
	in.Decision.DisabledSections = nil
	in.Ranking = playbook.Ranking{
		Results: []playbook.Result{{PlaybookID: "pb_vendas_desempenho_v1", Score: 66, MissingColumns: []string{"unit_price"}}},
		Selected: playbook.Result{PlaybookID: playbook.GenericID},
		Fallback: true,
	}
	card := audit.Build(in)
	require.Len(t, card.Recommendations, 1)
	assert.Contains(t, card.Recommendations[0], "80% compatibility")
	assert.Contains(t, card.Recommendations[0], "pb_vendas_desempenho_v1 (66%), is missing: unit_price")
	assert.True(t, card.Playbook.IsFallback)
}

func TestMarkdownOmitsEmptySections(t *testing.T) {
	md := audit.Build(audit.Input{}).Markdown()
	for _, h := range []string{"### Source", "### Ingestion", "### Normalization", "### Column mapping", "### Playbook", "### Limitations", "### Recommendations"} {
		assert.NotContains(t, md, h)
	}
	assert.Contains(t, md, "### Guardrails")

	// no header is ever followed directly by another header or the end
	lines := strings.Split(strings.TrimSpace(audit.Build(sampleInput(2)).Markdown()), "\n")
	for i, l := range lines {
		if !strings.HasPrefix(l, "###") {
			continue
		}
		require.Less(t, i+1, len(lines), "header %q at end", l)
		next := lines[i+1]
		if next == "" && i+2 < len(lines) {
			next = lines[i+2]
		}
		assert.False(t, strings.HasPrefix(next, "###"), "empty section %q", l)
	}
}

func TestMarkdownContent(t *testing.T) {
	md := audit.Build(sampleInput(2)).Markdown()
	assert.Contains(t, md, "- File: estoque.xlsx")
	assert.Contains(t, md, "- Size: 2.0 KB")
	assert.Contains(t, md, "(2 discarded)")
	assert.Contains(t, md, "sheet \"Março\" of 3")
	assert.Contains(t, md, "`Saldo Anterior (Unid.)` → `saldo anterior`")
	assert.Contains(t, md, "Decimal comma detected")
	assert.Contains(t, md, "| Col 1 | col 1 | - | numeric | 1.00 |")
	assert.Contains(t, md, "- Compatibility: 100%")
	assert.Contains(t, md, "temporal_trend: No column with inferred type date was found. Missing: movement_date.")
	assert.Contains(t, md, "### Limitations\n- only the first 100000 rows were read")
}

func TestIngestionMethodPerFormat(t *testing.T) {
	for src, want := range map[string]string{
		"csv":         "Delimited text",
		"xlsx":        "Spreadsheet cells",
		"json":        "JSON records",
		"docx":        "Word document",
		"pdf":         "PDF document",
		"fixed_width": "Fixed-width",
		"parquet":     "as parquet",
	} {
		assert.Contains(t, audit.IngestionMethod(schema.IngestTelemetry{IngestSource: src}), want, src)
	}
	assert.Empty(t, audit.IngestionMethod(schema.IngestTelemetry{}))
}

func TestFingerprintIsStable(t *testing.T) {
	a, err := audit.Build(sampleInput(5)).Fingerprint()
	require.NoError(t, err)
	b, err := audit.Build(sampleInput(5)).Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	in := sampleInput(5)
	in.Decision.QualityScore = 87
	c, err := audit.Build(in).Fingerprint()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestLargestGroupsGoThroughTopN(t *testing.T) {
	in := sampleInput(3)
	in.Policy.GroupMinRows = 10
	in.Decision.Groups = map[string][]guardrail.GroupCount{
		"by_category": {
			{Group: "Bebidas", Rows: 40}, {Group: "Limpeza", Rows: 12}, {Group: "Frios", Rows: 9},
			{Group: "Mercearia", Rows: 55}, {Group: "Padaria", Rows: 20}, {Group: "Hortifruti", Rows: 18},
			{Group: "Açougue", Rows: 11},
		},
		"by_location": {{Group: "A1", Rows: 4}},
	}
	card := audit.Build(in)
	require.Len(t, card.Guardrails.LargestGroups, 1)
	sg := card.Guardrails.LargestGroups[0]
	assert.Equal(t, "by_category", sg.Section)
	require.Len(t, sg.Groups, audit.MaxGroupRows)
	assert.Equal(t, guardrail.GroupCount{Group: "Mercearia", Rows: 55}, sg.Groups[0])
	for _, g := range sg.Groups {
		assert.GreaterOrEqual(t, g.Rows, 10)
	}

	md := card.Markdown()
	assert.Contains(t, md, "  • by_category: Mercearia (55), Bebidas (40), Padaria (20), Hortifruti (18), Limpeza (12)\n")
	assert.NotContains(t, md, "Frios")
	assert.NotContains(t, md, "by_location:")
}
