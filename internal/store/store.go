// Package store persists response envelopes so an audit card can be shown
// again later and repeated runs over the same input can be spotted by
// fingerprint.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/KaramelBytes/playbook-guard/internal/engine"
)

// ErrNotFound is returned when no envelope has the requested id.
var ErrNotFound = errors.New("audit envelope not found")

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

func init() {
	sqlx.BindDriver(DriverName, sqlx.QUESTION)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS audit_envelopes (
		request_id   TEXT PRIMARY KEY,
		generated_at TEXT NOT NULL,
		playbook_id  TEXT NOT NULL,
		is_fallback  INTEGER NOT NULL DEFAULT 0,
		fingerprint  TEXT NOT NULL,
		file_name    TEXT NOT NULL DEFAULT '',
		envelope     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_envelopes_fingerprint ON audit_envelopes (fingerprint)`,
}

// Summary is the listing view of a stored envelope.
type Summary struct {
	RequestID   string    `json:"request_id"`
	GeneratedAt time.Time `json:"generated_at"`
	PlaybookID  string    `json:"playbook_id"`
	IsFallback  bool      `json:"is_fallback"`
	Fingerprint string    `json:"fingerprint"`
	FileName    string    `json:"file_name,omitempty"`
}

type summaryRow struct {
	RequestID   string `db:"request_id"`
	GeneratedAt string `db:"generated_at"`
	PlaybookID  string `db:"playbook_id"`
	IsFallback  bool   `db:"is_fallback"`
	Fingerprint string `db:"fingerprint"`
	FileName    string `db:"file_name"`
}

func (r summaryRow) summary() Summary {
	ts, _ := time.Parse(time.RFC3339Nano, r.GeneratedAt)
	return Summary{
		RequestID:   r.RequestID,
		GeneratedAt: ts,
		PlaybookID:  r.PlaybookID,
		IsFallback:  r.IsFallback,
		Fingerprint: r.Fingerprint,
		FileName:    r.FileName,
	}
}

const summaryColumns = `request_id, generated_at, playbook_id, is_fallback, fingerprint, file_name`

// AuditStore keeps envelopes in a single SQLite table.
type AuditStore struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*AuditStore, error) {
	db, err := sqlx.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing handle and applies the schema.
func New(db *sqlx.DB) (*AuditStore, error) {
	s := &AuditStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *AuditStore) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("migrate audit store: %w", err)
		}
	}
	return nil
}

// Save stores env. Request ids are unique; saving one twice is an error.
func (s *AuditStore) Save(ctx context.Context, env engine.Envelope) error {
	if env.RequestID == "" {
		return errors.New("save envelope: empty request id")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `INSERT INTO audit_envelopes
		(request_id, generated_at, playbook_id, is_fallback, fingerprint, file_name, envelope)
		VALUES (:request_id, :generated_at, :playbook_id, :is_fallback, :fingerprint, :file_name, :envelope)`,
		map[string]any{
			"request_id":   env.RequestID,
			"generated_at": env.GeneratedAt.UTC().Format(time.RFC3339Nano),
			"playbook_id":  env.PlaybookID,
			"is_fallback":  env.IsFallback,
			"fingerprint":  env.Fingerprint,
			"file_name":    env.Card.Source.Name,
			"envelope":     string(body),
		})
	if err != nil {
		return fmt.Errorf("insert envelope %s: %w", env.RequestID, err)
	}
	return nil
}

// Get returns the envelope stored under requestID.
func (s *AuditStore) Get(ctx context.Context, requestID string) (engine.Envelope, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT envelope FROM audit_envelopes WHERE request_id = ?`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Envelope{}, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	if err != nil {
		return engine.Envelope{}, fmt.Errorf("get envelope %s: %w", requestID, err)
	}
	var env engine.Envelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return engine.Envelope{}, fmt.Errorf("decode envelope %s: %w", requestID, err)
	}
	return env, nil
}

// List returns the newest envelopes first. A non-positive limit means 20.
func (s *AuditStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.selectSummaries(ctx, `SELECT `+summaryColumns+` FROM audit_envelopes
		ORDER BY generated_at DESC, request_id LIMIT ?`, limit)
}

// FindByFingerprint returns every envelope with the given card fingerprint,
// oldest first.
func (s *AuditStore) FindByFingerprint(ctx context.Context, fingerprint string) ([]Summary, error) {
	return s.selectSummaries(ctx, `SELECT `+summaryColumns+` FROM audit_envelopes
		WHERE fingerprint = ? ORDER BY generated_at, request_id`, fingerprint)
}

func (s *AuditStore) selectSummaries(ctx context.Context, query string, arg any) ([]Summary, error) {
	var rows []summaryRow
	if err := s.db.SelectContext(ctx, &rows, query, arg); err != nil {
		return nil, fmt.Errorf("list envelopes: %w", err)
	}
	out := make([]Summary, len(rows))
	for i, r := range rows {
		out[i] = r.summary()
	}
	return out, nil
}

// Close releases the database handle.
func (s *AuditStore) Close() error {
	return s.db.Close()
}
