package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// delimitedReader handles .csv, .tsv and .txt. The extension only picks the
// telemetry source; the delimiter is always detected, except for .tsv.
type delimitedReader struct{}

func (delimitedReader) CanRead(filename string) bool {
	return hasExt(filename, ".csv", ".tsv", ".txt")
}

func (delimitedReader) Read(filename string, data []byte, opt Options) (*schema.Dataset, error) {
	return ReadDelimited(data, strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), "."), opt)
}

// ReadDelimited parses delimited text. source is csv, tsv or txt.
func ReadDelimited(data []byte, source string, opt Options) (*schema.Dataset, error) {
	decoded, enc, encWarn := normalize.DetectEncoding(data)
	text := strings.ReplaceAll(string(decoded), "\r\n", "\n")

	var (
		delim      rune
		confidence float64
		dialWarn   string
	)
	if source == "tsv" {
		delim, confidence = '\t', 1
	} else {
		head := strings.SplitN(text, "\n", 51)
		delim, confidence, dialWarn = normalize.DetectDialect(head)
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	c := &collector{opt: opt}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", source, err)
		}
		if !c.add(rec) {
			break
		}
	}

	ds := c.dataset(source)
	ds.Telemetry.Encoding = enc
	ds.Telemetry.Dialect = normalize.DialectName(delim)
	ds.Telemetry.DetectionConfidence = confidence
	for _, w := range []string{encWarn, dialWarn} {
		if w != "" {
			ds.Telemetry.IngestWarnings = append(ds.Telemetry.IngestWarnings, w)
		}
	}
	return ds, nil
}
