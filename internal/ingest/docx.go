package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// docxReader takes the first top-level table of a Word document. Text inside
// nested tables is folded into the enclosing cell.
type docxReader struct{}

func (docxReader) CanRead(filename string) bool { return hasExt(filename, ".docx") }

func (docxReader) Read(_ string, data []byte, opt Options) (*schema.Dataset, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	doc := readZipFile(zr, "word/document.xml")
	if len(doc) == 0 {
		return nil, errors.New("document.xml not found in docx")
	}

	var (
		dec    = xml.NewDecoder(bytes.NewReader(doc))
		depth  int
		done   bool
		tables int
		row    []string
		cell   strings.Builder
		inText bool
		c      = &collector{opt: opt}
	)
	for !done {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "tbl":
				depth++
				if depth == 1 {
					tables++
				}
			case "tr":
				if depth == 1 {
					row = nil
				}
			case "tc":
				if depth == 1 {
					cell.Reset()
				}
			case "t":
				inText = depth > 0
			case "p":
				if depth > 0 && cell.Len() > 0 {
					cell.WriteByte(' ')
				}
			}
		case xml.CharData:
			if inText {
				cell.Write(se)
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inText = false
			case "tc":
				if depth == 1 {
					row = append(row, strings.Join(strings.Fields(cell.String()), " "))
				}
			case "tr":
				if depth == 1 && !c.add(row) {
					done = true
				}
			case "tbl":
				depth--
				if depth == 0 {
					done = true
				}
			}
		}
	}
	if tables == 0 {
		return nil, errors.New("docx contains no table")
	}
	return c.dataset("docx"), nil
}
