// Package engine runs the selection pipeline for one dataset: normalize,
// infer, enrich, score, guardrail, audit. It holds the only shared state, an
// immutable catalog swapped atomically on reload.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/KaramelBytes/playbook-guard/internal/audit"
	"github.com/KaramelBytes/playbook-guard/internal/guardrail"
	"github.com/KaramelBytes/playbook-guard/internal/infer"
	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/KaramelBytes/playbook-guard/internal/engine"

var (
	ErrEmptyDataset = errors.New("dataset has no rows")
	ErrNoColumns    = errors.New("dataset has no columns")
)

// InputError is the only way Run rejects a dataset.
type InputError struct{ Err error }

func (e *InputError) Error() string { return "invalid input: " + e.Err.Error() }
func (e *InputError) Unwrap() error { return e.Err }

// Result is everything one run produced.
type Result struct {
	Schema     schema.EnrichedSchema `json:"schema"`
	Stats      schema.DatasetStats   `json:"stats"`
	Ranking    playbook.Ranking      `json:"ranking"`
	Playbook   playbook.Playbook     `json:"playbook"`
	Decision   guardrail.Decision    `json:"decision"`
	Card       audit.Card            `json:"card"`
	IsFallback bool                  `json:"is_fallback"`
}

// Engine is safe for concurrent use.
type Engine struct {
	catalog atomic.Pointer[Catalog]
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the debug logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer overrides the global OpenTelemetry tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New returns an engine serving c.
func New(c *Catalog, opts ...Option) (*Engine, error) {
	if c == nil {
		return nil, errors.New("engine: nil catalog")
	}
	e := &Engine{logger: slog.Default(), tracer: otel.Tracer(tracerName)}
	for _, o := range opts {
		o(e)
	}
	e.catalog.Store(c)
	return e, nil
}

// Catalog returns the catalog in use.
func (e *Engine) Catalog() *Catalog { return e.catalog.Load() }

// Reload swaps the catalog. Runs already in flight keep the one they started with.
func (e *Engine) Reload(c *Catalog) error {
	if c == nil {
		return errors.New("engine: nil catalog")
	}
	old := e.catalog.Swap(c)
	e.logger.Info("catalog reloaded",
		"dictionary_version", c.Dictionary.Version(),
		"playbooks", c.Registry.Len(),
		"previous_dictionary_version", old.Dictionary.Version())
	return nil
}

// stage starts a child span and returns the func that ends it.
func (e *Engine) stage(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func()) {
	ctx, span := e.tracer.Start(ctx, "engine."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	return ctx, func() { span.End() }
}

// Run evaluates one dataset. The stages run strictly in order and every
// stage only sees the complete output of the one before it.
func (e *Engine) Run(ctx context.Context, ds schema.Dataset) (*Result, error) {
	cat := e.catalog.Load()
	ctx, span := e.tracer.Start(ctx, "engine.Run", trace.WithAttributes(
		attribute.Int("dataset.rows", len(ds.Rows)),
		attribute.Int("dataset.columns", len(ds.Headers)),
		attribute.String("dataset.source", ds.Telemetry.IngestSource),
	))
	defer span.End()

	if len(ds.Headers) == 0 {
		err := &InputError{Err: ErrNoColumns}
		span.RecordError(err)
		return nil, err
	}
	if len(ds.Rows) == 0 {
		err := &InputError{Err: ErrEmptyDataset}
		span.RecordError(err)
		return nil, err
	}
	pol := cat.Policy
	rowCount := len(ds.Rows)

	_, end := e.stage(ctx, "normalize")
	stats := Stats(ds)
	raw := make([]schema.RawColumn, len(ds.Headers))
	for i, h := range ds.Headers {
		raw[i] = schema.RawColumn{Name: h, SampleValues: infer.Sample(columnValues(ds.Rows, i), pol.SampleSize)}
	}
	norm := normalize.Columns(raw, normalize.Options{Locale: upstreamLocale(ds.Telemetry.DecimalLocale)})
	end()

	_, end = e.stage(ctx, "infer", attribute.String("decimal_locale", string(norm.Locale)))
	cols := norm.Columns
	for i := range cols {
		inf := infer.Infer(raw[i].SampleValues, infer.Hints{
			Locale:       norm.Locale,
			DateLikeName: infer.DateLikeName(normalize.Key(ds.Headers[i])),
			Spreadsheet:  ds.Telemetry.IsSpreadsheet(),
		})
		cols[i].InferredType = inf.Type
		cols[i].Confidence = inf.Confidence
		cols[i].SerialDate = inf.SerialDate
		if inf.Warning != "" {
			cols[i].Warnings = append(cols[i].Warnings, inf.Warning)
		}
		e.logger.Debug("column inferred", "column", cols[i].NormalizedName, "type", inf.Type, "confidence", inf.Confidence)
	}
	end()

	_, end = e.stage(ctx, "enrich", attribute.String("dictionary.version", cat.Dictionary.Version()))
	enriched := cat.Dictionary.Enrich(cols)
	end()

	_, end = e.stage(ctx, "score")
	ranking := playbook.Score(enriched, rowCount, cat.Registry, pol)
	pb, ok := cat.Registry.Get(ranking.Selected.PlaybookID)
	end()
	if !ok {
		return nil, fmt.Errorf("selected playbook %q is not registered", ranking.Selected.PlaybookID)
	}
	span.SetAttributes(
		attribute.String("playbook.id", pb.ID),
		attribute.Int("playbook.score", ranking.Selected.Score),
		attribute.Bool("playbook.fallback", ranking.Fallback),
	)
	e.logger.Debug("playbook selected", "playbook", pb.ID, "score", ranking.Selected.Score, "fallback", ranking.Fallback)

	_, end = e.stage(ctx, "guardrail")
	decision := guardrail.Evaluate(guardrail.Input{
		Playbook: pb,
		Ranking:  ranking,
		Schema:   enriched,
		Stats:    stats,
		Groups:   sectionGroups(pb, enriched, ds.Rows),
	}, pol)
	end()
	e.logger.Debug("guardrails evaluated", "active", len(decision.ActiveSections), "disabled", len(decision.DisabledSections), "quality", decision.QualityScore)

	_, end = e.stage(ctx, "audit")
	card := audit.Build(audit.Input{
		Telemetry:     reportedTelemetry(ds, norm),
		Normalization: norm,
		Schema:        enriched,
		Ranking:       ranking,
		Playbook:      pb,
		Decision:      decision,
		Policy:        pol,
	})
	end()

	return &Result{
		Schema:     enriched,
		Stats:      stats,
		Ranking:    ranking,
		Playbook:   pb,
		Decision:   decision,
		Card:       card,
		IsFallback: ranking.Fallback,
	}, nil
}

// Stats counts non-null and missing cells per column over every row.
func Stats(ds schema.Dataset) schema.DatasetStats {
	st := schema.DatasetStats{RowCount: len(ds.Rows), Columns: make([]schema.ColumnStats, len(ds.Headers))}
	for i, h := range ds.Headers {
		cs := schema.ColumnStats{Name: h}
		for _, row := range ds.Rows {
			if strings.TrimSpace(schema.Cell(row, i)) == "" {
				cs.Missing++
			} else {
				cs.NonNull++
			}
		}
		st.Columns[i] = cs
	}
	return st
}

func columnValues(rows [][]string, i int) []string {
	out := make([]string, len(rows))
	for r, row := range rows {
		out[r] = schema.Cell(row, i)
	}
	return out
}

// sectionGroups counts rows per group for every section that groups by a
// mapped column. Sections whose column is absent get no entry.
func sectionGroups(pb playbook.Playbook, s schema.EnrichedSchema, rows [][]string) map[string]map[string]int {
	out := map[string]map[string]int{}
	for _, sec := range pb.Sections {
		if sec.GroupBy == "" {
			continue
		}
		cols := s.ByCanonical(sec.GroupBy)
		if len(cols) == 0 {
			continue
		}
		out[sec.ID] = guardrail.CountGroups(rows, cols[0].Index)
	}
	return out
}

func upstreamLocale(s string) normalize.Locale {
	switch l := normalize.Locale(strings.ToLower(strings.TrimSpace(s))); l {
	case normalize.LocaleDot, normalize.LocaleComma:
		return l
	}
	return ""
}

// reportedTelemetry fills the fields ingestion left empty with what
// normalization observed. The caller's telemetry is not modified.
func reportedTelemetry(ds schema.Dataset, norm normalize.Result) schema.IngestTelemetry {
	tel := ds.Telemetry
	if len(tel.HeadersOriginal) == 0 {
		tel.HeadersOriginal = append([]string(nil), ds.Headers...)
	}
	if len(tel.HeadersNormalized) == 0 {
		tel.HeadersNormalized = norm.Names()
	}
	if tel.RowCount == 0 {
		tel.RowCount = len(ds.Rows)
	}
	if tel.DecimalLocale == "" {
		tel.DecimalLocale = string(norm.Locale)
	}
	return tel
}
