package schema

// IngestTelemetry describes how a file was read. It is produced by the
// ingestion collaborator and only reported, never re-derived, downstream.
type IngestTelemetry struct {
	IngestSource        string   `json:"ingest_source"` // csv|tsv|txt|xlsx|json|docx|pdf|pptx|fixed_width
	FileName            string   `json:"file_name,omitempty"`
	FileSizeBytes       int64    `json:"file_size_bytes"`
	DetectionConfidence float64  `json:"detection_confidence"`
	HeadersOriginal     []string `json:"headers_original,omitempty"`
	HeadersNormalized   []string `json:"headers_normalized,omitempty"`
	RowCount            int      `json:"row_count"`
	DiscardedRows       int      `json:"discarded_rows"`
	DecimalLocale       string   `json:"decimal_locale,omitempty"` // dot|comma
	Encoding            string   `json:"encoding,omitempty"`
	Dialect             string   `json:"dialect,omitempty"`
	SheetCount          int      `json:"sheet_count,omitempty"`
	SheetName           string   `json:"sheet_name,omitempty"`
	IngestWarnings      []string `json:"ingest_warnings,omitempty"`
	Limitations         []string `json:"limitations,omitempty"`
}

// IsSpreadsheet reports whether the source stores dates as epoch serials.
func (t IngestTelemetry) IsSpreadsheet() bool {
	switch t.IngestSource {
	case "xlsx", "xls", "ods":
		return true
	}
	return false
}

// Dataset is the tabular payload handed from ingestion to the engine.
// Rows are positional and aligned with Headers; short rows are treated as
// having empty trailing cells.
type Dataset struct {
	Headers   []string        `json:"headers"`
	Rows      [][]string      `json:"rows"`
	Telemetry IngestTelemetry `json:"telemetry"`
}

// Cell returns row[i] or "" when the row is short.
func Cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
