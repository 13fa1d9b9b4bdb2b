package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Locale is the dataset-wide decimal convention.
type Locale string

const (
	LocaleDot   Locale = "dot"
	LocaleComma Locale = "comma"
)

var (
	reNumberish = regexp.MustCompile(`^[+-]?[\d.,]*\d[\d.,]*$`)
	reFloat     = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

	// Integer parts with thousands grouping: every group after the first has three digits.
	reGroupedDot   = regexp.MustCompile(`^[+-]?\d{1,3}(\.\d{3})+$`)
	reGroupedComma = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+$`)
)

// cleanNumeric strips whitespace, percent signs and currency markers.
func cleanNumeric(s string) string {
	s = strings.ReplaceAll(s, "\u00A0", "")
	s = reCurrency.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, " ", "")
	return strings.TrimSpace(s)
}

// decimalMark classifies a numeric-looking value by its decimal separator.
// It returns 0 when the value has no separator or the separator is ambiguous
// (a single separator followed by exactly three digits, e.g. "1,500").
func decimalMark(v string) rune {
	v = cleanNumeric(v)
	if !reNumberish.MatchString(v) {
		return 0
	}
	cpos := strings.LastIndex(v, ",")
	dpos := strings.LastIndex(v, ".")
	switch {
	case cpos >= 0 && dpos >= 0:
		if cpos > dpos {
			return ','
		}
		return '.'
	case cpos >= 0:
		if strings.Count(v, ",") == 1 && len(v)-cpos-1 != 3 {
			return ','
		}
	case dpos >= 0:
		if strings.Count(v, ".") == 1 && len(v)-dpos-1 != 3 {
			return '.'
		}
	}
	return 0
}

// DetectLocale decides the decimal convention for a whole dataset. Among the
// numeric-looking values that carry an unambiguous decimal mark, more than
// half must use a comma for the result to be LocaleComma.
func DetectLocale(columns [][]string) Locale {
	var comma, marked int
	for _, col := range columns {
		for _, v := range col {
			switch decimalMark(v) {
			case ',':
				comma++
				marked++
			case '.':
				marked++
			}
		}
	}
	if marked > 0 && comma*2 > marked {
		return LocaleComma
	}
	return LocaleDot
}

// ParseNumber parses s under the given locale. Percent signs and currency
// markers are ignored; scientific notation is accepted. Thousands separators
// are only dropped when they group the integer part in threes, so "1.234,5"
// is a number under LocaleComma while "15.01.2024" and "1.2.3" are not.
func ParseNumber(s string, locale Locale) (float64, bool) {
	raw := cleanNumeric(s)
	if raw == "" {
		return 0, false
	}
	group, decimal, grouped := ",", ".", reGroupedComma
	if locale == LocaleComma {
		group, decimal, grouped = ".", ",", reGroupedDot
	}
	if strings.Contains(raw, group) {
		intPart := raw
		if i := strings.Index(raw, decimal); i >= 0 {
			intPart = raw[:i]
		}
		if !grouped.MatchString(intPart) {
			return 0, false
		}
		raw = strings.ReplaceAll(raw, group, "")
	}
	if locale == LocaleComma {
		raw = strings.ReplaceAll(raw, ",", ".")
	}
	if !reFloat.MatchString(raw) {
		return 0, false
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
