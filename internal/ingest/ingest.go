// Package ingest turns uploaded files into positional datasets with the
// telemetry the audit card reports. It is the collaborator that runs before
// the engine; nothing here classifies or scores columns.
package ingest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// ErrUnsupported is returned for file extensions no reader handles.
var ErrUnsupported = errors.New("unsupported file format")

// Options controls how a file is read.
type Options struct {
	// SheetName selects a workbook sheet by name (case-insensitive).
	SheetName string
	// SheetIndex selects a workbook sheet by 1-based position when SheetName is empty.
	SheetIndex int
	// MaxRows limits the data rows read; 0 means unlimited.
	MaxRows int
}

// Reader reads one family of formats.
type Reader interface {
	CanRead(filename string) bool
	Read(filename string, data []byte, opt Options) (*schema.Dataset, error)
}

var registry []Reader

// Register adds a reader. Later registrations do not override earlier ones.
func Register(r Reader) {
	registry = append(registry, r)
}

// Supported reports whether some reader accepts filename.
func Supported(filename string) bool {
	for _, r := range registry {
		if r.CanRead(filename) {
			return true
		}
	}
	return false
}

// Load reads the file at path.
func Load(path string, opt Options) (*schema.Dataset, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return Parse(filepath.Base(path), data, opt)
}

// Parse reads data as the format implied by filename.
func Parse(filename string, data []byte, opt Options) (*schema.Dataset, error) {
	for _, r := range registry {
		if !r.CanRead(filename) {
			continue
		}
		ds, err := r.Read(filename, data, opt)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filename, err)
		}
		ds.Telemetry.FileName = filename
		ds.Telemetry.FileSizeBytes = int64(len(data))
		return ds, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Ext(filename))
}

func hasExt(filename string, exts ...string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// collector accumulates header and rows with the padding, discard and
// row-limit rules shared by every format.
type collector struct {
	opt       Options
	header    []string
	rows      [][]string
	discarded int
	ragged    int
	truncated bool
}

// add takes the next record and reports whether more should be read.
func (c *collector) add(rec []string) bool {
	if isBlank(rec) {
		c.discarded++
		return true
	}
	if c.header == nil {
		c.header = make([]string, len(rec))
		for i, h := range rec {
			c.header[i] = strings.TrimSpace(h)
		}
		return true
	}
	if c.opt.MaxRows > 0 && len(c.rows) == c.opt.MaxRows {
		c.truncated = true
		return false
	}
	if len(rec) != len(c.header) {
		c.ragged++
		row := make([]string, len(c.header))
		copy(row, rec)
		rec = row
	}
	c.rows = append(c.rows, rec)
	return true
}

func (c *collector) dataset(source string) *schema.Dataset {
	tel := schema.IngestTelemetry{
		IngestSource:        source,
		DetectionConfidence: 1,
		HeadersOriginal:     append([]string(nil), c.header...),
		RowCount:            len(c.rows),
		DiscardedRows:       c.discarded,
	}
	if c.ragged > 0 {
		tel.IngestWarnings = append(tel.IngestWarnings,
			fmt.Sprintf("%d row(s) did not match the header width and were padded or cut to %d fields", c.ragged, len(c.header)))
	}
	if c.truncated {
		tel.Limitations = append(tel.Limitations,
			fmt.Sprintf("only the first %d rows were read; the rest of the file was not analyzed", c.opt.MaxRows))
	}
	if c.rows == nil {
		c.rows = [][]string{}
	}
	return &schema.Dataset{Headers: c.header, Rows: c.rows, Telemetry: tel}
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func init() {
	Register(delimitedReader{})
	Register(xlsxReader{})
	Register(jsonReader{})
	Register(docxReader{})
}
