package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// xlsxReader reads one worksheet straight from the workbook XML. Cell values
// are kept as stored, so date cells arrive as serial numbers.
type xlsxReader struct{}

func (xlsxReader) CanRead(filename string) bool { return hasExt(filename, ".xlsx") }

func (xlsxReader) Read(_ string, data []byte, opt Options) (*schema.Dataset, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	sheets := parseWorkbook(readZipFile(zr, "xl/workbook.xml"))
	rels := parseRelationships(readZipFile(zr, "xl/_rels/workbook.xml.rels"))

	sheet, target, err := pickSheet(sheets, rels, opt)
	if err != nil {
		return nil, err
	}
	sheetXML := readZipFile(zr, target)
	if sheetXML == nil {
		return nil, fmt.Errorf("worksheet %s not found in workbook", target)
	}

	rr := newSheetRowReader(sheetXML, parseSharedStrings(readZipFile(zr, "xl/sharedStrings.xml")))
	c := &collector{opt: opt}
	for {
		row, ok := rr.Next()
		if !ok || !c.add(row) {
			break
		}
	}
	ds := c.dataset("xlsx")
	ds.Telemetry.SheetName = sheet.Name
	ds.Telemetry.SheetCount = len(sheets)
	return ds, nil
}

type wbSheet struct {
	Name    string
	SheetID int
	RID     string
}

// pickSheet resolves the requested sheet to its zip path. A name that does
// not exist is an error; an index falls back to the conventional path.
func pickSheet(sheets []wbSheet, rels map[string]string, opt Options) (wbSheet, string, error) {
	if opt.SheetName != "" {
		for _, s := range sheets {
			if strings.EqualFold(s.Name, opt.SheetName) {
				return s, normalizeRelPath(rels[s.RID]), nil
			}
		}
		names := make([]string, len(sheets))
		for i, s := range sheets {
			names[i] = s.Name
		}
		return wbSheet{}, "", fmt.Errorf("sheet %q not found; available sheets: %s", opt.SheetName, strings.Join(names, ", "))
	}
	idx := max(opt.SheetIndex, 1)
	if idx <= len(sheets) {
		s := sheets[idx-1]
		if rel, ok := rels[s.RID]; ok {
			return s, normalizeRelPath(rel), nil
		}
	}
	return wbSheet{Name: fmt.Sprintf("Sheet%d", idx), SheetID: idx}, path.Join("xl", "worksheets", fmt.Sprintf("sheet%d.xml", idx)), nil
}

// parseWorkbook lists the sheets in workbook order.
func parseWorkbook(data []byte) []wbSheet {
	var sheets []wbSheet
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return sheets
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "sheet" {
			continue
		}
		var s wbSheet
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "name":
				s.Name = a.Value
			case "sheetId":
				s.SheetID = atoiSafe(a.Value)
			case "id":
				s.RID = a.Value
			}
		}
		sheets = append(sheets, s)
	}
}

// parseRelationships maps relationship ids to targets.
func parseRelationships(data []byte) map[string]string {
	out := map[string]string{}
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "Relationship" {
			continue
		}
		var id, target string
		for _, a := range se.Attr {
			switch a.Name.Local {
			case "Id":
				id = a.Value
			case "Target":
				target = a.Value
			}
		}
		if id != "" && target != "" {
			out[id] = target
		}
	}
}

func readZipFile(zr *zip.Reader, name string) []byte {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil
		}
		defer rc.Close()
		b, err := io.ReadAll(rc)
		if err != nil {
			return nil
		}
		return b
	}
	return nil
}

func parseSharedStrings(data []byte) []string {
	var out []string
	var buf strings.Builder
	var inT bool
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return out
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "si":
				buf.Reset()
			case "t":
				inT = true
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "t":
				inT = false
			case "si":
				out = append(out, buf.String())
			}
		case xml.CharData:
			if inT {
				buf.Write(se)
			}
		}
	}
}

type sheetRowReader struct {
	dec    *xml.Decoder
	shared []string
}

func newSheetRowReader(data []byte, shared []string) *sheetRowReader {
	return &sheetRowReader{dec: xml.NewDecoder(bytes.NewReader(data)), shared: shared}
}

// Next returns the next <row> as positional cells; gaps are empty strings.
func (r *sheetRowReader) Next() ([]string, bool) {
	var row []string
	inRow := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return nil, false
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch {
			case se.Name.Local == "row":
				inRow, row = true, nil
			case inRow && se.Name.Local == "c":
				var ref, typ string
				for _, a := range se.Attr {
					switch a.Name.Local {
					case "r":
						ref = a.Value
					case "t":
						typ = a.Value
					}
				}
				col := len(row)
				if ref != "" {
					col = colIndexFromRef(ref)
				}
				if col < 0 {
					col = len(row)
				}
				val := r.cellValue(typ)
				for len(row) <= col {
					row = append(row, "")
				}
				row[col] = val
			}
		case xml.EndElement:
			if se.Name.Local == "row" {
				return row, true
			}
		}
	}
}

// cellValue reads up to the closing </c>, resolving shared strings and booleans.
func (r *sheetRowReader) cellValue(typ string) string {
	var val strings.Builder
	inText := false
	for {
		tok, err := r.dec.Token()
		if err != nil {
			return val.String()
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if se.Name.Local == "v" || se.Name.Local == "t" {
				inText = true
			}
		case xml.CharData:
			if inText {
				val.Write(se)
			}
		case xml.EndElement:
			switch se.Name.Local {
			case "v", "t":
				inText = false
			case "c":
				s := val.String()
				switch typ {
				case "s":
					if i := atoiSafe(s); i >= 0 && i < len(r.shared) {
						return r.shared[i]
					}
					return ""
				case "b":
					if s == "1" {
						return "true"
					}
					return "false"
				}
				return s
			}
		}
	}
}

// colIndexFromRef turns "C12" into 2.
func colIndexFromRef(ref string) int {
	idx := 0
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c >= 'A' && c <= 'Z':
			idx = idx*26 + int(c-'A'+1)
		case c >= 'a' && c <= 'z':
			idx = idx*26 + int(c-'a'+1)
		default:
			return idx - 1
		}
	}
	return idx - 1
}

func atoiSafe(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// normalizeRelPath converts a relationship target to a zip entry name.
// Targets may be absolute ("/xl/worksheets/sheet1.xml") or relative to xl/.
func normalizeRelPath(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if strings.HasPrefix(rel, "xl/") {
		return rel
	}
	return path.Join("xl", rel)
}
