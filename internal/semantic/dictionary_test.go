package semantic_test

import (
	"strings"
	"testing"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"github.com/KaramelBytes/playbook-guard/internal/semantic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultResolvesInventoryHeaders(t *testing.T) {
	d, err := semantic.Default()
	require.NoError(t, err)

	cases := map[string]string{
		"sku":             "sku",
		"Categoria":       "category",
		"RUA":             "location",
		"Saldo Anterior":  "opening_balance",
		"saldo_anterior":  "opening_balance",
		"Entrada (un)":    "qty_in",
		"Saída":           "qty_out",
		"contagem_fisica": "physical_count",
		"Valor Unit.":     "unit_price",
		"qtd_entregue":    "qty_delivered",
		"Data do Pedido":  "",
		"data_pedido":     "order_date",
	}
	for in, want := range cases {
		got, ok := d.Resolve(semantic.EntityColumn, in)
		if want == "" {
			assert.False(t, ok, "expected %q to stay unmatched, got %q", in, got)
			continue
		}
		assert.True(t, ok, "expected %q to resolve", in)
		assert.Equal(t, want, got, "Resolve(%q)", in)
	}
}

func TestResolveIsExactNotFuzzy(t *testing.T) {
	d, err := semantic.Default()
	require.NoError(t, err)

	for _, in := range []string{"skus", "sku_code_x", "saldo", "qtd_entregue_total", "quantidades"} {
		_, ok := d.Resolve(semantic.EntityColumn, in)
		assert.False(t, ok, "partial name %q must not resolve", in)
	}
}

func TestPartitionsAreIndependent(t *testing.T) {
	d, err := semantic.Default()
	require.NoError(t, err)

	_, ok := d.Resolve(semantic.EntityColumn, "otif")
	assert.False(t, ok)
	got, ok := d.Resolve(semantic.EntityMetric, "taxa_otif")
	require.True(t, ok)
	assert.Equal(t, "otif_rate", got)
}

const versioned = `
entries:
  - entity_type: column
    canonical_name: qty_delivered
    version: 1.1.0
    synonyms: [qtd_entregue, delivered]
  - entity_type: column
    canonical_name: qty_delivered
    version: 1.0.0
    synonyms: [entregue]
  - entity_type: column
    canonical_name: sku
    version: 2.0.0
    synonyms: [codigo]
`

func TestLatestVersionWins(t *testing.T) {
	d, err := semantic.LoadYAML(strings.NewReader(versioned))
	require.NoError(t, err)

	got, ok := d.Resolve(semantic.EntityColumn, "qtd_entregue")
	require.True(t, ok)
	assert.Equal(t, "qty_delivered", got)

	// synonyms dropped in a newer version no longer resolve
	_, ok = d.Resolve(semantic.EntityColumn, "entregue")
	assert.False(t, ok)

	hist := d.History(semantic.EntityColumn, "qty_delivered")
	require.Len(t, hist, 2)
	assert.Equal(t, "1.0.0", hist[0].Version)
	assert.Equal(t, "1.1.0", hist[1].Version)
	assert.Equal(t, "2.0.0", d.Version())
}

func TestLoadRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{"conflict", `
entries:
  - {entity_type: column, canonical_name: a, version: 1.0.0, synonyms: [shared]}
  - {entity_type: column, canonical_name: b, version: 1.0.0, synonyms: [Shared]}
`, "synonym conflict"},
		{"bad version", `
entries:
  - {entity_type: column, canonical_name: a, version: latest, synonyms: [x]}
`, "invalid version"},
		{"unknown entity", `
entries:
  - {entity_type: table, canonical_name: a, version: 1.0.0, synonyms: [x]}
`, "unknown entity_type"},
		{"duplicate version", `
entries:
  - {entity_type: column, canonical_name: a, version: 1.0.0, synonyms: [x]}
  - {entity_type: column, canonical_name: a, version: 1.0.0, synonyms: [y]}
`, "duplicate"},
		{"unknown field", `
entries:
  - {entity_type: column, canonical_name: a, version: 1.0.0, aliases: [x]}
`, "parse dictionary"},
		{"empty", `entries: []`, "no entries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := semantic.LoadYAML(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSameSynonymAcrossPartitionsIsAllowed(t *testing.T) {
	doc := `
entries:
  - {entity_type: column, canonical_name: revenue, version: 1.0.0, synonyms: [receita]}
  - {entity_type: metric, canonical_name: revenue_total, version: 1.0.0, synonyms: [receita]}
`
	_, err := semantic.LoadYAML(strings.NewReader(doc))
	require.NoError(t, err)
}

func TestEnrichPreservesOrderAndLeavesUnknownsBlank(t *testing.T) {
	d, err := semantic.Default()
	require.NoError(t, err)

	cols := []schema.NormalizedColumn{
		{OriginalName: "Produto", NormalizedName: "produto", InferredType: schema.TypeText},
		{OriginalName: "Obs", NormalizedName: "obs", InferredType: schema.TypeText},
		{OriginalName: "Quantidade", NormalizedName: "quantidade", InferredType: schema.TypeNumeric},
	}
	es := d.Enrich(cols)
	require.Len(t, es.Columns, 3)
	assert.Equal(t, "product", es.Columns[0].CanonicalName)
	assert.Equal(t, "", es.Columns[1].CanonicalName)
	assert.Equal(t, "quantity", es.Columns[2].CanonicalName)
	assert.Equal(t, 2, es.Columns[2].Index)
}

func TestEntriesAndLookup(t *testing.T) {
	d, err := semantic.Default()
	require.NoError(t, err)

	assert.True(t, d.Has(semantic.EntityColumn, "sku"))
	assert.False(t, d.Has(semantic.EntityMetric, "sku"))
	e, ok := d.Lookup(semantic.EntityColumn, "qty_delivered")
	require.True(t, ok)
	assert.Equal(t, "1.1.0", e.Version)
	assert.NotEmpty(t, d.Entries(semantic.EntityMetric))
}
