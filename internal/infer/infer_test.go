package infer

import (
	"fmt"
	"testing"
	"time"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

func repeat(v string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestInferClassificationOrder(t *testing.T) {
	tests := []struct {
		name   string
		sample []string
		hints  Hints
		want   schema.ColumnType
	}{
		{"booleans", []string{"sim", "não", "Sim", "nao", "true"}, Hints{}, schema.TypeBoolean},
		{"zero-one is boolean before numeric", []string{"0", "1", "1", "0"}, Hints{}, schema.TypeBoolean},
		{"dot numbers", []string{"1.5", "2", "3.75", "10", "11"}, Hints{}, schema.TypeNumeric},
		{"comma numbers", []string{"1,5", "2,25", "3.000,75", "10", "12"}, Hints{Locale: normalize.LocaleComma}, schema.TypeNumeric},
		{"iso dates", []string{"2024-01-05", "2024-02-10", "2024-03-15", "2024-04-20", "2024-05-25"}, Hints{}, schema.TypeDate},
		{"dotted dates in comma locale", []string{"15.01.2024", "16.01.2024", "17.01.2024", "18.01.2024", "19.01.2024"}, Hints{Locale: normalize.LocaleComma}, schema.TypeDate},
		{"dotted dates in dot locale", []string{"15.01.2024", "16.01.2024", "17.01.2024", "18.01.2024", "19.01.2024"}, Hints{}, schema.TypeDate},
		{"br dates", []string{"05/01/2024", "10/02/2024", "15/03/2024", "20/04/2024", "25/05/2024"}, Hints{}, schema.TypeDate},
		{"text", []string{"alpha", "beta", "gamma", "delta", "epsilon"}, Hints{}, schema.TypeText},
		{"mixed numbers and words", []string{"1", "2", "3", "abc", "def", "ghi", "7", "8", "xyz", "10"}, Hints{}, schema.TypeMixed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Infer(tt.sample, tt.hints)
			if got.Type != tt.want {
				t.Fatalf("Infer(%v) = %s (counts %+v), want %s", tt.sample, got.Type, got.Counts, tt.want)
			}
			if got.Confidence <= 0 || got.Confidence > 1 {
				t.Fatalf("confidence out of range: %v", got.Confidence)
			}
		})
	}
}

func TestInferEightyPercentThreshold(t *testing.T) {
	// 8 of 10 numeric clears the bar.
	sample := append(repeat("42", 8), "n/a", "unknown")
	if got := Infer(sample, Hints{}); got.Type != schema.TypeNumeric || got.Confidence != 0.8 {
		t.Fatalf("expected numeric at 0.8, got %s %.2f", got.Type, got.Confidence)
	}
	// 7 of 10 numeric with 30% text is mixed.
	sample = append(repeat("42", 7), "n/a", "unknown", "tbd")
	if got := Infer(sample, Hints{}); got.Type != schema.TypeMixed {
		t.Fatalf("expected mixed, got %s", got.Type)
	}
	// 9 words and one number stays text.
	sample = append(repeat("word", 9), "42")
	if got := Infer(sample, Hints{}); got.Type != schema.TypeText || got.Confidence != 0.9 {
		t.Fatalf("expected text at 0.9, got %s %.2f", got.Type, got.Confidence)
	}
}

func TestInferEmptySample(t *testing.T) {
	got := Infer(nil, Hints{})
	if got.Type != schema.TypeText || got.Confidence != 0 || got.Warning == "" {
		t.Fatalf("unexpected inference for empty sample: %+v", got)
	}
}

func TestSpreadsheetSerialDates(t *testing.T) {
	serials := []string{"45292", "45293", "45300", "45310", "45320"}
	got := Infer(serials, Hints{DateLikeName: true})
	if got.Type != schema.TypeDate || !got.SerialDate {
		t.Fatalf("expected serial date, got %+v", got)
	}
	// Same values under a non-date header stay numeric.
	if got := Infer(serials, Hints{}); got.Type != schema.TypeNumeric {
		t.Fatalf("expected numeric without date-like header, got %s", got.Type)
	}
	// Fractional serials (date and time) are only trusted from a workbook.
	withTime := []string{"45292,25", "45293,5", "45300,75", "45310", "45320,125"}
	if got := Infer(withTime, Hints{Locale: normalize.LocaleComma, DateLikeName: true, Spreadsheet: true}); got.Type != schema.TypeDate || !got.SerialDate {
		t.Fatalf("expected workbook datetime serials as dates, got %+v", got)
	}
	if got := Infer(withTime, Hints{Locale: normalize.LocaleComma, DateLikeName: true}); got.Type != schema.TypeNumeric {
		t.Fatalf("expected fractional serials from delimited text to stay numeric, got %s", got.Type)
	}
	// yyyymmdd integers are outside the serial window and stay numeric.
	if got := Infer([]string{"20240105", "20240210", "20240315"}, Hints{DateLikeName: true}); got.Type != schema.TypeNumeric {
		t.Fatalf("expected numeric for yyyymmdd integers, got %s", got.Type)
	}
}

func TestSerialToTime(t *testing.T) {
	want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := SerialToTime(45292); !got.Equal(want) {
		t.Fatalf("SerialToTime(45292) = %s, want %s", got, want)
	}
	if got := SerialToTime(45292.5); got.Hour() != 12 {
		t.Fatalf("expected noon for .5 fraction, got %s", got)
	}
}

func TestSample(t *testing.T) {
	values := make([]string, 0, 250)
	for i := 0; i < 250; i++ {
		if i%2 == 0 {
			values = append(values, "")
			continue
		}
		values = append(values, fmt.Sprintf(" %d ", i))
	}
	s := Sample(values, 0)
	if len(s) != DefaultSampleSize {
		t.Fatalf("expected %d sampled values, got %d", DefaultSampleSize, len(s))
	}
	if s[0] != "1" {
		t.Fatalf("expected trimmed first value, got %q", s[0])
	}
}

func TestDateLikeName(t *testing.T) {
	for _, k := range []string{"data_pedido", "dt_entrega", "order_date", "date", "data"} {
		if !DateLikeName(k) {
			t.Errorf("DateLikeName(%q) = false", k)
		}
	}
	for _, k := range []string{"qtd_entregue", "database_id", "saldo_anterior", "update"} {
		if DateLikeName(k) {
			t.Errorf("DateLikeName(%q) = true", k)
		}
	}
}
