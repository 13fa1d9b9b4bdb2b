// Package plan validates LLM-produced 5W2H action plans and drives the
// bounded re-issue cycle when a plan falls short.
package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Action is one 5W2H recommendation. The validator never mutates it.
type Action struct {
	What    string `json:"what"`
	Why     string `json:"why"`
	Who     string `json:"who"`
	When    string `json:"when"`
	Where   string `json:"where"`
	How     string `json:"how"`
	HowMuch string `json:"how_much"`
}

// ErrShape marks plans whose JSON structure is not an action plan.
var ErrShape = errors.New("invalid action plan shape")

// fieldAliases maps folded English and Portuguese keys to canonical fields.
var fieldAliases = map[string]string{
	"what": "what", "o_que": "what", "oque": "what",
	"why": "why", "por_que": "why", "porque": "why",
	"who": "who", "quem": "who",
	"when": "when", "quando": "when",
	"where": "where", "onde": "where",
	"how": "how", "como": "how",
	"how_much": "how_much", "howmuch": "how_much", "quanto": "how_much", "quanto_custa": "how_much",
}

var listKeys = []string{"actions", "acoes", "plano_de_acao", "plan"}

const schemaURL = "https://pbguard.local/schemas/action_plan.schema.json"

//go:embed action_plan.schema.json
var schemaDoc string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func planSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaDoc)); err != nil {
			schemaErr = fmt.Errorf("load plan schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Normalize parses a plan given as a JSON array of actions or as an object
// holding the array under actions/acoes/plano_de_acao/plan. Keys may be in
// English or Portuguese; Markdown code fences around the JSON are ignored.
func Normalize(raw []byte) ([]Action, error) {
	body := extractJSON(raw)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrShape)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShape, err)
	}

	var items any
	switch t := v.(type) {
	case []any:
		items = t
	case map[string]any:
		folded := make(map[string]any, len(t))
		for k, val := range t {
			folded[normalize.Key(k)] = val
		}
		for _, lk := range listKeys {
			if val, ok := folded[lk]; ok {
				items = val
				break
			}
		}
		if items == nil {
			return nil, fmt.Errorf("%w: object has none of the keys %s", ErrShape, strings.Join(listKeys, ", "))
		}
	default:
		return nil, fmt.Errorf("%w: expected an array or an object, got %T", ErrShape, v)
	}

	doc := map[string]any{"actions": canonicalItems(items)}
	sch, err := planSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrShape, err)
	}

	list := doc["actions"].([]any)
	out := make([]Action, 0, len(list))
	for _, it := range list {
		m := it.(map[string]any)
		out = append(out, Action{
			What:    text(m["what"]),
			Why:     text(m["why"]),
			Who:     text(m["who"]),
			When:    text(m["when"]),
			Where:   text(m["where"]),
			How:     text(m["how"]),
			HowMuch: text(m["how_much"]),
		})
	}
	return out, nil
}

// canonicalItems renames known keys of every object item; anything that is
// not an array is returned untouched so the schema reports it.
func canonicalItems(items any) any {
	list, ok := items.([]any)
	if !ok {
		return items
	}
	out := make([]any, len(list))
	for i, it := range list {
		m, ok := it.(map[string]any)
		if !ok {
			out[i] = it
			continue
		}
		cm := make(map[string]any, len(m))
		for k, val := range m {
			if canon, ok := fieldAliases[normalize.Key(k)]; ok {
				cm[canon] = val
				continue
			}
			cm[k] = val
		}
		out[i] = cm
	}
	return out
}

// text flattens a field value. Lists become numbered lines so each entry
// counts as a step.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case []any:
		var b strings.Builder
		n := 0
		for _, it := range t {
			s := text(it)
			if s == "" {
				continue
			}
			n++
			if n > 1 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%d. %s", n, s)
		}
		return b.String()
	}
	return fmt.Sprint(v)
}

// extractJSON strips Markdown fences and any prose before the first JSON token.
func extractJSON(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		s = strings.TrimSpace(rest)
	}
	if i := strings.IndexAny(s, "[{"); i > 0 {
		s = s[i:]
	}
	return []byte(s)
}
