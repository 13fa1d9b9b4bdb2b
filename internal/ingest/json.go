package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// jsonReader accepts an array of objects, or an object with the records under
// "rows", "data" or "records". Column order follows first appearance of each
// key, which is why records are decoded token by token instead of into maps.
type jsonReader struct{}

func (jsonReader) CanRead(filename string) bool { return hasExt(filename, ".json") }

func (jsonReader) Read(_ string, data []byte, opt Options) (*schema.Dataset, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := seekRecords(dec); err != nil {
		return nil, err
	}

	var (
		keys    []string
		index   = map[string]int{}
		records []map[string]string
		skipped int
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		if d, ok := tok.(json.Delim); !ok || d != '{' {
			if ok {
				if err := skipValue(dec, d); err != nil {
					return nil, err
				}
			}
			skipped++
			continue
		}
		rec := map[string]string{}
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("parse json: %w", err)
			}
			key, _ := kt.(string)
			val, err := scalarText(dec)
			if err != nil {
				return nil, err
			}
			if _, seen := index[key]; !seen {
				index[key] = len(keys)
				keys = append(keys, key)
			}
			rec[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
		records = append(records, rec)
	}
	if len(keys) == 0 {
		return nil, errors.New("json contains no object records")
	}

	c := &collector{opt: opt}
	c.add(keys)
	for _, rec := range records {
		row := make([]string, len(keys))
		for k, v := range rec {
			row[index[k]] = v
		}
		if !c.add(row) {
			break
		}
	}
	c.discarded += skipped
	ds := c.dataset("json")
	if skipped > 0 {
		ds.Telemetry.IngestWarnings = append(ds.Telemetry.IngestWarnings,
			fmt.Sprintf("%d record(s) were not objects and were skipped", skipped))
	}
	return ds, nil
}

// seekRecords positions dec just inside the record array.
func seekRecords(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	switch tok {
	case json.Delim('['):
		return nil
	case json.Delim('{'):
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return fmt.Errorf("parse json: %w", err)
			}
			switch kt {
			case "rows", "data", "records":
				next, err := dec.Token()
				if err != nil {
					return fmt.Errorf("parse json: %w", err)
				}
				if next != json.Delim('[') {
					return fmt.Errorf("json field %q is not an array", kt)
				}
				return nil
			}
			if _, err := scalarText(dec); err != nil {
				return err
			}
		}
	}
	return errors.New("json must be an array of records or an object with a rows array")
}

// scalarText reads one value. Nested values are flattened to their JSON text.
func scalarText(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("parse json: %w", err)
	}
	switch v := tok.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case json.Delim:
		var buf bytes.Buffer
		if err := copyValue(dec, v, &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	return fmt.Sprint(tok), nil
}

func skipValue(dec *json.Decoder, open json.Delim) error {
	return copyValue(dec, open, io.Discard)
}

// copyValue re-encodes a nested array or object whose opening delimiter was
// already consumed.
func copyValue(dec *json.Decoder, open json.Delim, w io.Writer) error {
	fmt.Fprint(w, open.String())
	first := true
	for dec.More() {
		if !first {
			fmt.Fprint(w, ",")
		}
		first = false
		if open == '{' {
			kt, err := dec.Token()
			if err != nil {
				return fmt.Errorf("parse json: %w", err)
			}
			kb, _ := json.Marshal(kt)
			fmt.Fprintf(w, "%s:", kb)
		}
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("parse json: %w", err)
		}
		if d, ok := tok.(json.Delim); ok {
			if err := copyValue(dec, d, w); err != nil {
				return err
			}
			continue
		}
		b, _ := json.Marshal(tok)
		w.Write(b)
	}
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("parse json: %w", err)
	}
	fmt.Fprint(w, end.(json.Delim).String())
	return nil
}
