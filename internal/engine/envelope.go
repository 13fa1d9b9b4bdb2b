package engine

import (
	"time"

	"github.com/KaramelBytes/playbook-guard/internal/audit"
)

// Envelope is the response wrapper returned to the API boundary. Request ids
// and timestamps live here only, never inside the decision or the card.
type Envelope struct {
	RequestID   string     `json:"request_id"`
	GeneratedAt time.Time  `json:"generated_at"`
	Success     bool       `json:"success"`
	IsFallback  bool       `json:"is_fallback"`
	PlaybookID  string     `json:"playbook_id"`
	Card        audit.Card `json:"audit_card"`
	Markdown    string     `json:"markdown"`
	Fingerprint string     `json:"fingerprint"`
}

// NewEnvelope wraps a result. The fingerprint covers the card alone, so two
// runs over the same input share it.
func NewEnvelope(res *Result, requestID string, now time.Time) (Envelope, error) {
	fp, err := res.Card.Fingerprint()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		RequestID:   requestID,
		GeneratedAt: now.UTC(),
		Success:     true,
		IsFallback:  res.IsFallback,
		PlaybookID:  res.Playbook.ID,
		Card:        res.Card,
		Markdown:    res.Card.Markdown(),
		Fingerprint: fp,
	}, nil
}
