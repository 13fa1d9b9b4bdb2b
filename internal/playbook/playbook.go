// Package playbook holds the registry of canned analysis playbooks and the
// compatibility scorer that ranks them against an enriched schema.
package playbook

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"gopkg.in/yaml.v3"
)

// GenericID is the reserved id of the built-in descriptive fallback.
const GenericID = "generic_exploratory_v1"

// Requirement is a canonical column with the inferred type it must carry.
type Requirement struct {
	Name string            `yaml:"name" json:"name"`
	Type schema.ColumnType `yaml:"type" json:"type"`
}

func (r Requirement) String() string {
	if r.Type == "" || r.Type == schema.TypeAny {
		return r.Name
	}
	return fmt.Sprintf("%s (%s)", r.Name, r.Type)
}

// Section is one analysis block a playbook can render.
type Section struct {
	ID           string       `yaml:"id" json:"id"`
	Title        string       `yaml:"title" json:"title"`
	Precondition Precondition `yaml:"precondition" json:"precondition"`
	// Reason and CallToAction override the generated texts when the section is disabled.
	Reason       string `yaml:"reason" json:"reason,omitempty"`
	CallToAction string `yaml:"call_to_action" json:"call_to_action,omitempty"`
	// GroupBy names the canonical column whose groups the section ranks.
	GroupBy string `yaml:"group_by" json:"group_by,omitempty"`
}

// Playbook is a named bundle of required columns and sections for one analysis domain.
type Playbook struct {
	ID              string        `yaml:"id" json:"id"`
	Name            string        `yaml:"name" json:"name"`
	Description     string        `yaml:"description" json:"description,omitempty"`
	RequiredColumns []Requirement `yaml:"required_columns" json:"required_columns"`
	SemanticTags    []string      `yaml:"semantic_tags" json:"semantic_tags,omitempty"`
	MinRows         int           `yaml:"min_rows" json:"min_rows,omitempty"`
	Sections        []Section     `yaml:"sections" json:"sections"`
}

// Section returns the section with the given id.
func (p Playbook) Section(id string) (Section, bool) {
	for _, s := range p.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// Registry is an ordered, immutable set of playbooks.
type Registry struct {
	playbooks []Playbook
	byID      map[string]int
}

type registryFile struct {
	Playbooks []Playbook `yaml:"playbooks"`
}

//go:embed data/playbooks.yaml
var defaultRegistry []byte

// Default returns the built-in registry.
func Default() (*Registry, error) {
	return LoadYAML(bytes.NewReader(defaultRegistry))
}

// LoadFile reads a registry YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playbooks: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML parses a registry document and compiles its preconditions.
func LoadYAML(r io.Reader) (*Registry, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc registryFile
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse playbooks: %w", err)
	}
	return NewRegistry(doc.Playbooks)
}

// NewRegistry validates playbooks and fixes their order.
func NewRegistry(pbs []Playbook) (*Registry, error) {
	if len(pbs) == 0 {
		return nil, errors.New("registry has no playbooks")
	}
	reg := &Registry{byID: map[string]int{}}
	for i, p := range pbs {
		p.ID = strings.TrimSpace(p.ID)
		switch {
		case p.ID == "":
			return nil, fmt.Errorf("playbook %d: id is empty", i)
		case p.ID == GenericID:
			return nil, fmt.Errorf("playbook %d: id %q is reserved for the built-in fallback", i, GenericID)
		case len(p.RequiredColumns) == 0:
			return nil, fmt.Errorf("playbook %s: at least one required column is needed", p.ID)
		}
		if _, dup := reg.byID[p.ID]; dup {
			return nil, fmt.Errorf("playbook %s: duplicate id", p.ID)
		}
		if err := validateRequirements(p.RequiredColumns); err != nil {
			return nil, fmt.Errorf("playbook %s: %w", p.ID, err)
		}
		if err := compileSections(p.Sections); err != nil {
			return nil, fmt.Errorf("playbook %s: %w", p.ID, err)
		}
		reg.byID[p.ID] = len(reg.playbooks)
		reg.playbooks = append(reg.playbooks, p)
	}
	return reg, nil
}

func validateRequirements(reqs []Requirement) error {
	seen := map[string]bool{}
	for _, r := range reqs {
		if strings.TrimSpace(r.Name) == "" {
			return errors.New("requirement with empty name")
		}
		if r.Type != "" && r.Type != schema.TypeAny && !r.Type.Valid() {
			return fmt.Errorf("requirement %s: unknown type %q", r.Name, r.Type)
		}
		if seen[r.Name] {
			return fmt.Errorf("requirement %s listed twice", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func compileSections(secs []Section) error {
	seen := map[string]bool{}
	for i := range secs {
		s := &secs[i]
		if s.ID == "" {
			return fmt.Errorf("section %d: id is empty", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("section %s: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if err := validateRequirements(s.Precondition.Columns); err != nil {
			return fmt.Errorf("section %s: %w", s.ID, err)
		}
		if t := s.Precondition.RequiredType; t != "" && !t.Valid() {
			return fmt.Errorf("section %s: unknown required_type %q", s.ID, t)
		}
		if err := s.Precondition.compile(); err != nil {
			return fmt.Errorf("section %s: %w", s.ID, err)
		}
	}
	return nil
}

// Playbooks returns the registered playbooks in registry order.
func (r *Registry) Playbooks() []Playbook {
	out := make([]Playbook, len(r.playbooks))
	copy(out, r.playbooks)
	return out
}

// Get returns a playbook by id; the fallback id resolves to Generic().
func (r *Registry) Get(id string) (Playbook, bool) {
	if id == GenericID {
		return Generic(), true
	}
	i, ok := r.byID[id]
	if !ok {
		return Playbook{}, false
	}
	return r.playbooks[i], true
}

// Len returns the number of registered playbooks.
func (r *Registry) Len() int { return len(r.playbooks) }

var generic = func() Playbook {
	p := Playbook{
		ID:           GenericID,
		Name:         "Generic exploratory analysis",
		Description:  "Descriptive statistics only; makes no domain-specific claims.",
		SemanticTags: []string{"exploratory", "descriptive"},
		Sections: []Section{
			{ID: "overview", Title: "Dataset overview"},
			{ID: "missing_values", Title: "Missing values per column"},
			{
				ID:    "distribution",
				Title: "Numeric distributions",
				Precondition: Precondition{
					RequiredType: schema.TypeNumeric,
					Suggest:      "quantity",
				},
				Reason:       "No numeric column was detected, so there is nothing to summarize as a distribution.",
				CallToAction: "Add at least one numeric column (quantities, values or counts).",
			},
			{
				ID:    "frequencies",
				Title: "Most frequent values",
				Precondition: Precondition{
					RequiredType: schema.TypeText,
					Suggest:      "category",
				},
				Reason:       "No text column was detected to count categories in.",
				CallToAction: "Add a categorical column such as product, category or region.",
			},
			{
				ID:    "temporal_trend",
				Title: "Trend over time",
				Precondition: Precondition{
					RequiredType: schema.TypeDate,
					Suggest:      "order_date",
				},
				CallToAction: "Add a column with order or event dates.",
			},
		},
	}
	if err := compileSections(p.Sections); err != nil {
		panic(fmt.Sprintf("generic playbook: %v", err))
	}
	return p
}()

// Generic returns the built-in descriptive fallback playbook.
func Generic() Playbook { return generic }
