package schema

// ColumnType is the primitive type inferred for a column.
type ColumnType string

const (
	TypeNumeric ColumnType = "numeric"
	TypeText    ColumnType = "text"
	TypeDate    ColumnType = "date"
	TypeBoolean ColumnType = "boolean"
	TypeMixed   ColumnType = "mixed"
	// TypeAny is only valid inside playbook requirements.
	TypeAny ColumnType = "any"
)

// Valid reports whether t is one of the inferable column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeNumeric, TypeText, TypeDate, TypeBoolean, TypeMixed:
		return true
	}
	return false
}

// Accepts reports whether a column of the given inferred type satisfies a
// requirement of type t. Mixed columns only satisfy TypeAny.
func (t ColumnType) Accepts(inferred ColumnType) bool {
	if t == TypeAny || t == "" {
		return true
	}
	return t == inferred
}

// RawColumn is a header plus sampled raw values as produced by ingestion.
type RawColumn struct {
	Name         string
	SampleValues []string
}

// NormalizedColumn is a column after header normalization and type inference.
type NormalizedColumn struct {
	OriginalName   string     `json:"original_name"`
	NormalizedName string     `json:"normalized_name"`
	InferredType   ColumnType `json:"inferred_type"`
	Confidence     float64    `json:"confidence"`
	// SerialDate marks numeric spreadsheet serials re-classified as dates.
	SerialDate bool     `json:"serial_date,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
}

// EnrichedColumn pairs a normalized column with its canonical business name.
// CanonicalName is empty when no dictionary entry matched.
type EnrichedColumn struct {
	NormalizedColumn
	Index         int    `json:"index"`
	CanonicalName string `json:"canonical_name,omitempty"`
}

// EnrichedSchema keeps one entry per original column, in original order.
type EnrichedSchema struct {
	Columns []EnrichedColumn `json:"columns"`
}

// ByCanonical returns every column mapped to the canonical name.
func (s EnrichedSchema) ByCanonical(name string) []EnrichedColumn {
	var out []EnrichedColumn
	for _, c := range s.Columns {
		if c.CanonicalName != "" && c.CanonicalName == name {
			out = append(out, c)
		}
	}
	return out
}

// HasType reports whether at least one column was inferred as t.
func (s EnrichedSchema) HasType(t ColumnType) bool {
	for _, c := range s.Columns {
		if c.InferredType == t {
			return true
		}
	}
	return false
}

// TypeCounts counts columns per inferred type; every inferable type is present.
func (s EnrichedSchema) TypeCounts() map[ColumnType]int {
	out := map[ColumnType]int{
		TypeNumeric: 0, TypeText: 0, TypeDate: 0, TypeBoolean: 0, TypeMixed: 0,
	}
	for _, c := range s.Columns {
		out[c.InferredType]++
	}
	return out
}

// ColumnStats holds null statistics over every row of a column.
type ColumnStats struct {
	Name    string `json:"name"`
	NonNull int    `json:"non_null"`
	Missing int    `json:"missing"`
}

// NullRate returns the share of missing values, 0 when the column is empty.
func (c ColumnStats) NullRate() float64 {
	total := c.NonNull + c.Missing
	if total == 0 {
		return 0
	}
	return float64(c.Missing) / float64(total)
}

// DatasetStats are row and null statistics for one dataset, aligned with the schema.
type DatasetStats struct {
	RowCount int           `json:"row_count"`
	Columns  []ColumnStats `json:"columns"`
}
