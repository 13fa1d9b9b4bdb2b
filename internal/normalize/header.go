// Package normalize cleans raw headers and values into a canonical shape.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reParenUnit   = regexp.MustCompile(`\s*\([^)]*\)`)
	reBracketUnit = regexp.MustCompile(`\s*\[[^\]]*\]`)
	reCurrency    = regexp.MustCompile(`(?i)(r\$|us\$|\$|€|£)`)
	// unit suffixes separated from the base name, e.g. "peso_kg", "temp °c", "alpha %"
	reUnitSuffix = regexp.MustCompile(`(?i)^(.+?)[_\s-]+(mg/l|g/l|ug/l|°c|°f|brix|%|ppm|ppb|kg|un|und|unid|pcs|brl|usd|eur)\.?$`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reKeySep     = regexp.MustCompile(`[\s\-./\\]+`)
	reUnderscore = regexp.MustCompile(`_+`)
)

// StripDiacritics removes combining marks: "Não" -> "Nao".
func StripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Fold lower-cases, strips diacritics and collapses whitespace.
func Fold(s string) string {
	s = strings.ReplaceAll(s, "\u00A0", " ")
	s = strings.ToLower(StripDiacritics(s))
	return strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
}

// Header normalizes a raw header: units in parentheses/brackets or as known
// suffixes are removed, currency markers dropped, case and accents folded.
// "Saldo Anterior (Unid.)" -> "saldo anterior". The result may be empty.
func Header(raw string) string {
	s := Fold(raw)
	s = reParenUnit.ReplaceAllString(s, "")
	s = reBracketUnit.ReplaceAllString(s, "")
	s = reCurrency.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	if m := reUnitSuffix.FindStringSubmatch(s); len(m) == 3 && strings.TrimSpace(m[1]) != "" {
		s = m[1]
	}
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.Trim(s, " _-:.;,")
}

// Key is the dictionary lookup form of a header: Header() with separators
// folded to underscores, so "Saldo Anterior" and "saldo_anterior" collide.
func Key(raw string) string {
	s := reKeySep.ReplaceAllString(Header(raw), "_")
	s = reUnderscore.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
