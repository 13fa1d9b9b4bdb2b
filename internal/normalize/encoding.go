package normalize

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding names reported in telemetry.
const (
	EncodingUTF8        = "utf-8"
	EncodingUTF16LE     = "utf-16le"
	EncodingUTF16BE     = "utf-16be"
	EncodingWindows1252 = "windows-1252"
)

var bomUTF8 = []byte{0xEF, 0xBB, 0xBF}

// DetectEncoding returns b decoded to UTF-8 together with the detected source
// encoding. It never fails: undecodable input is returned as-is labelled
// UTF-8 with a warning.
func DetectEncoding(b []byte) (out []byte, name string, warning string) {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		return b[len(bomUTF8):], EncodingUTF8, ""
	case bytes.HasPrefix(b, []byte{0xFF, 0xFE}):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if d, err := dec.Bytes(b); err == nil {
			return d, EncodingUTF16LE, ""
		}
		return b, EncodingUTF8, "utf-16le byte order mark found but content failed to decode; read as utf-8"
	case bytes.HasPrefix(b, []byte{0xFE, 0xFF}):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		if d, err := dec.Bytes(b); err == nil {
			return d, EncodingUTF16BE, ""
		}
		return b, EncodingUTF8, "utf-16be byte order mark found but content failed to decode; read as utf-8"
	}
	if utf8.Valid(b) {
		return b, EncodingUTF8, ""
	}
	d, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return b, EncodingUTF8, "content is not valid utf-8 and could not be decoded; invalid bytes kept"
	}
	return d, EncodingWindows1252, "content is not valid utf-8; decoded as windows-1252"
}

// Delimiter candidates in preference order.
var delimiters = []rune{',', ';', '\t', '|'}

// DialectName renders a delimiter for telemetry.
func DialectName(d rune) string {
	switch d {
	case ',':
		return "comma"
	case ';':
		return "semicolon"
	case '\t':
		return "tab"
	case '|':
		return "pipe"
	}
	return string(d)
}

// DetectDialect picks the delimiter whose field count is most consistent
// across the given lines. Confidence is the share of lines agreeing with the
// modal field count. With no multi-field candidate it falls back to comma.
func DetectDialect(lines []string) (delim rune, confidence float64, warning string) {
	var sample []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		sample = append(sample, l)
		if len(sample) == 20 {
			break
		}
	}
	if len(sample) == 0 {
		return ',', 0, "no content to detect a delimiter from; assuming comma"
	}
	best, bestConsistency, bestFields := rune(0), 0.0, 0
	for _, d := range delimiters {
		counts := map[int]int{}
		for _, l := range sample {
			counts[countFields(l, d)]++
		}
		mode, modeN := 0, 0
		for fields, n := range counts {
			if n > modeN || (n == modeN && fields > mode) {
				mode, modeN = fields, n
			}
		}
		if mode < 2 {
			continue
		}
		consistency := float64(modeN) / float64(len(sample))
		if consistency > bestConsistency || (consistency == bestConsistency && mode > bestFields) {
			best, bestConsistency, bestFields = d, consistency, mode
		}
	}
	if best == 0 {
		return ',', 0.5, "could not detect a delimiter; assuming comma"
	}
	if bestConsistency < 0.8 {
		warning = "delimiter detection is ambiguous; using " + DialectName(best)
	}
	return best, bestConsistency, warning
}

// countFields counts delimiter-separated fields outside double quotes.
func countFields(line string, d rune) int {
	n := 1
	inQuote := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuote = !inQuote
		case r == d && !inQuote:
			n++
		}
	}
	return n
}
