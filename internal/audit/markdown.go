package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// Markdown renders the card. Sections without data are left out entirely.
func (c Card) Markdown() string {
	var b strings.Builder
	b.WriteString("## Audit card\n")

	if c.Source.Type != "" {
		b.WriteString("\n### Source\n")
		if c.Source.Name != "" {
			b.WriteString(fmt.Sprintf("- File: %s\n", safeVal(c.Source.Name)))
		}
		b.WriteString(fmt.Sprintf("- Type: %s\n", c.Source.Type))
		if c.Source.SizeBytes > 0 {
			b.WriteString(fmt.Sprintf("- Size: %s\n", humanBytes(c.Source.SizeBytes)))
		}
		b.WriteString(fmt.Sprintf("- Detection confidence: %.0f%%\n", c.Source.DetectionConfidence*100))
		b.WriteString(fmt.Sprintf("- Rows: %d", c.Source.Rows))
		if c.Source.DiscardedRows > 0 {
			b.WriteString(fmt.Sprintf(" (%d discarded)", c.Source.DiscardedRows))
		}
		b.WriteString("\n")
	}
	if c.IngestionMethod != "" {
		b.WriteString("\n### Ingestion\n")
		b.WriteString(c.IngestionMethod)
		b.WriteString("\n")
	}

	n := c.Normalization
	if len(n.Examples) > 0 || n.LocaleNote != "" || len(n.Warnings) > 0 {
		b.WriteString("\n### Normalization\n")
		for _, ex := range n.Examples {
			b.WriteString(fmt.Sprintf("- `%s` → `%s`\n", safeVal(ex.Before), safeVal(ex.After)))
		}
		if n.LocaleNote != "" {
			b.WriteString("- " + n.LocaleNote + "\n")
		}
		for _, w := range n.Warnings {
			b.WriteString("- ⚠ " + w + "\n")
		}
	}

	if len(c.Mapping) > 0 {
		b.WriteString("\n### Column mapping\n")
		b.WriteString("| Original | Normalized | Canonical | Type | Confidence |\n")
		b.WriteString("| --- | --- | --- | --- | --- |\n")
		for _, m := range c.Mapping {
			canon := m.Canonical
			if canon == "" {
				canon = "-"
			}
			b.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %.2f |\n",
				safeName(m.Original), safeVal(m.Normalized), canon, m.Type, m.Confidence))
		}
		if c.MappingOverflow > 0 {
			b.WriteString(fmt.Sprintf("\n…and %d more column(s) not shown.\n", c.MappingOverflow))
		}
	}

	if c.Playbook.ID != "" {
		b.WriteString("\n### Playbook\n")
		name := c.Playbook.ID
		if c.Playbook.Name != "" {
			name = fmt.Sprintf("%s (%s)", c.Playbook.Name, c.Playbook.ID)
		}
		b.WriteString(fmt.Sprintf("- Selected: %s\n", name))
		if c.Playbook.IsFallback {
			b.WriteString("- Fallback: no specialized playbook was compatible enough\n")
		} else {
			b.WriteString(fmt.Sprintf("- Compatibility: %d%%\n", c.Playbook.Score))
		}
		if len(c.Playbook.MissingColumns) > 0 {
			b.WriteString("- Missing columns: " + strings.Join(c.Playbook.MissingColumns, ", ") + "\n")
		}
		if len(c.Playbook.Alternatives) > 0 {
			alts := make([]string, len(c.Playbook.Alternatives))
			for i, a := range c.Playbook.Alternatives {
				alts[i] = fmt.Sprintf("%s (%d%%)", a.ID, a.Score)
			}
			b.WriteString("- Alternatives: " + strings.Join(alts, ", ") + "\n")
		}
	}

	g := c.Guardrails
	b.WriteString("\n### Guardrails\n")
	b.WriteString(fmt.Sprintf("- Quality score: %d/100\n", g.QualityScore))
	b.WriteString(fmt.Sprintf("- Completeness: %.0f%%\n", g.Completeness*100))
	if len(g.ActiveSections) > 0 {
		b.WriteString("- Active sections: " + strings.Join(g.ActiveSections, ", ") + "\n")
	}
	if len(g.DisabledSections) > 0 {
		b.WriteString("- Disabled sections:\n")
		for _, ds := range g.DisabledSections {
			b.WriteString(fmt.Sprintf("  • %s: %s Missing: %s.\n", ds.Section, ds.Reason, ds.MissingRequirement))
		}
	}
	if len(g.ExcludedGroups) > 0 {
		b.WriteString("- Groups excluded for small samples:\n")
		for _, eg := range g.ExcludedGroups {
			b.WriteString(fmt.Sprintf("  • %s / %s (%d rows)\n", eg.Section, safeVal(eg.Group), eg.Rows))
		}
	}
	if len(g.LargestGroups) > 0 {
		b.WriteString("- Largest groups:\n")
		for _, sg := range g.LargestGroups {
			parts := make([]string, len(sg.Groups))
			for i, gc := range sg.Groups {
				parts[i] = fmt.Sprintf("%s (%d)", safeVal(gc.Group), gc.Rows)
			}
			b.WriteString(fmt.Sprintf("  • %s: %s\n", sg.Section, strings.Join(parts, ", ")))
		}
	}
	if len(g.Events) > 0 {
		b.WriteString("- Events:\n")
		for _, ev := range g.Events {
			b.WriteString(fmt.Sprintf("  • [%s] %s\n", ev.Kind, ev.Detail))
		}
	}

	if len(c.Limitations) > 0 {
		b.WriteString("\n### Limitations\n")
		for _, l := range c.Limitations {
			b.WriteString("- " + l + "\n")
		}
	}
	if len(c.Recommendations) > 0 {
		b.WriteString("\n### Recommendations\n")
		for _, r := range c.Recommendations {
			b.WriteString("- " + r + "\n")
		}
	}
	return b.String()
}

// Fingerprint is the hex SHA-256 of the card's canonical (RFC 8785) JSON.
func (c Card) Fingerprint() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal card: %w", err)
	}
	canon, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize card: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func humanBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return safeVal(s)
}

func safeVal(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
