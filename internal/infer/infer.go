// Package infer classifies sampled column values into primitive types.
package infer

import (
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

const (
	// DefaultSampleSize is the number of non-null values inspected per column.
	DefaultSampleSize = 100
	// winShare is the share of the non-null sample a type must match to win.
	winShare = 0.8
	// mixedShare is the share two exclusive categories must each hold for a mixed column.
	mixedShare = 0.2

	serialMin = 1
	serialMax = 60000
)

// excelEpoch is day zero of the 1900 date system (including the 1900 leap-year bug offset).
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Hints carries context the inferencer cannot derive from values alone.
type Hints struct {
	Locale normalize.Locale
	// DateLikeName is true when the header reads like a date ("data_pedido", "dt_entrega").
	// Only such columns are re-read as spreadsheet serials.
	DateLikeName bool
	// Spreadsheet is true when cells come straight from a workbook. Serials
	// with a time-of-day fraction are only trusted there; delimited exports
	// must hold whole day numbers.
	Spreadsheet bool
}

// Counts tallies sampled values by their first matching category in
// boolean -> numeric -> date -> text order.
type Counts struct {
	Boolean int `json:"boolean"`
	Numeric int `json:"numeric"`
	Date    int `json:"date"`
	Text    int `json:"text"`
}

// Inference is the outcome for one column.
type Inference struct {
	Type       schema.ColumnType
	Confidence float64
	SerialDate bool
	Counts     Counts
	Warning    string
}

// Sample returns at most n non-empty trimmed values in order.
func Sample(values []string, n int) []string {
	if n <= 0 {
		n = DefaultSampleSize
	}
	out := make([]string, 0, min(n, len(values)))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}

// Infer classifies a sample of non-null values. Types are tested in the order
// boolean, numeric, date; the first matching at least 80% of the sample wins,
// otherwise the column is mixed (two categories at >= 20% each) or text.
func Infer(sample []string, h Hints) Inference {
	n := len(sample)
	if n == 0 {
		return Inference{Type: schema.TypeText, Warning: "column has no non-null values"}
	}
	var boolHits, numHits, dateHits int
	var c Counts
	nums := make([]float64, 0, n)
	for _, v := range sample {
		isBool := IsBoolean(v)
		x, isNum := normalize.ParseNumber(v, h.Locale)
		isDate := IsDate(v)
		if isBool {
			boolHits++
		}
		if isNum {
			numHits++
			nums = append(nums, x)
		}
		if isDate {
			dateHits++
		}
		switch {
		case isBool:
			c.Boolean++
		case isNum:
			c.Numeric++
		case isDate:
			c.Date++
		default:
			c.Text++
		}
	}
	share := func(k int) float64 { return float64(k) / float64(n) }

	switch {
	case share(boolHits) >= winShare:
		return Inference{Type: schema.TypeBoolean, Confidence: share(boolHits), Counts: c}
	case share(numHits) >= winShare:
		inf := Inference{Type: schema.TypeNumeric, Confidence: share(numHits), Counts: c}
		if h.DateLikeName && inSerialRange(nums) && (h.Spreadsheet || wholeDays(nums)) {
			inf.Type = schema.TypeDate
			inf.SerialDate = true
			inf.Warning = "numeric values in the spreadsheet serial range under a date-like header were read as dates (1900 epoch)"
		}
		return inf
	case share(dateHits) >= winShare:
		return Inference{Type: schema.TypeDate, Confidence: share(dateHits), Counts: c}
	}

	var atLeast int
	for _, k := range []int{c.Boolean, c.Numeric, c.Date, c.Text} {
		if share(k) >= mixedShare {
			atLeast++
		}
	}
	if atLeast >= 2 {
		top := max(c.Boolean, c.Numeric, c.Date, c.Text)
		return Inference{Type: schema.TypeMixed, Confidence: share(top), Counts: c}
	}
	return Inference{Type: schema.TypeText, Confidence: share(c.Text), Counts: c}
}

func inSerialRange(nums []float64) bool {
	if len(nums) == 0 {
		return false
	}
	for _, x := range nums {
		if math.IsNaN(x) || x < serialMin || x > serialMax {
			return false
		}
	}
	return true
}

func wholeDays(nums []float64) bool {
	for _, x := range nums {
		if x != math.Trunc(x) {
			return false
		}
	}
	return true
}

// SerialToTime converts a 1900-system spreadsheet serial to a UTC time.
func SerialToTime(serial float64) time.Time {
	days := math.Floor(serial)
	frac := serial - days
	t := excelEpoch.AddDate(0, 0, int(days))
	return t.Add(time.Duration(frac * float64(24*time.Hour)).Round(time.Second))
}

var booleans = map[string]bool{
	"true": true, "false": true, "0": true, "1": true,
	"yes": true, "no": true, "y": true, "t": true, "f": true,
	"sim": true, "nao": true, "s": true, "n": true,
	"verdadeiro": true, "falso": true,
}

// IsBoolean reports whether v belongs to the closed boolean vocabulary.
func IsBoolean(v string) bool {
	return booleans[normalize.Fold(v)]
}

var (
	reYear = regexp.MustCompile(`(^|\D)\d{4}(\D|$)`)

	dateLayouts = []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006", "02-01-2006", "02.01.2006",
		"2006-01-02 15:04", "2006-01-02 15:04:05", "2006-01-02T15:04:05", "02/01/2006 15:04", "02/01/2006 15:04:05",
		"1/2/2006", "1/2/2006 15:04", "1/2/2006 15:04:05", "2/1/2006", "2006-01", "01/2006", "Jan 2006", "2 Jan 2006",
	}
)

// IsDate reports whether v parses as a calendar date and carries a 4-digit year.
func IsDate(v string) bool {
	v = strings.TrimSpace(v)
	if !reYear.MatchString(v) {
		return false
	}
	for _, l := range dateLayouts {
		if _, err := time.Parse(l, v); err == nil {
			return true
		}
	}
	return false
}

var reDateName = regexp.MustCompile(`(^|_)(data|date|dt|vencimento|vcto|emissao|timestamp|ts)(_|$)`)

// DateLikeName reports whether a normalized lookup key reads like a date column.
func DateLikeName(key string) bool {
	return reDateName.MatchString(key)
}
