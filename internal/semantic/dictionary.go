// Package semantic maps normalized column names to a canonical business
// vocabulary using a versioned synonym dictionary.
//
// Matching is exact membership in the synonym set after header
// normalization; there is no fuzzy or partial matching. A wrong mapping
// silently enables an incompatible playbook, so an unmatched column is
// always preferred over a guessed one.
package semantic

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// EntityType partitions the dictionary.
type EntityType string

const (
	EntityColumn EntityType = "column"
	EntityMetric EntityType = "metric"
)

// Entry is one version of a canonical name and its synonyms.
type Entry struct {
	EntityType    EntityType `yaml:"entity_type" json:"entity_type"`
	CanonicalName string     `yaml:"canonical_name" json:"canonical_name"`
	Synonyms      []string   `yaml:"synonyms" json:"synonyms"`
	Description   string     `yaml:"description" json:"description,omitempty"`
	Version       string     `yaml:"version" json:"version"`
}

type file struct {
	Entries []Entry `yaml:"entries"`
}

type versioned struct {
	entry Entry
	ver   *semver.Version
}

// Dictionary is immutable once loaded and safe for concurrent readers.
type Dictionary struct {
	history map[EntityType]map[string][]versioned // canonical -> versions ascending
	index   map[EntityType]map[string]string      // lookup key -> canonical (latest versions only)
	version *semver.Version
}

// ErrConflict is returned when one synonym maps to two canonical names.
var ErrConflict = errors.New("synonym conflict")

//go:embed data/dictionary.yaml
var defaultDictionary []byte

// Default returns the built-in dictionary.
func Default() (*Dictionary, error) {
	return LoadYAML(bytes.NewReader(defaultDictionary))
}

// LoadFile reads a dictionary YAML file.
func LoadFile(path string) (*Dictionary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dictionary: %w", err)
	}
	defer f.Close()
	return LoadYAML(f)
}

// LoadYAML parses and validates a dictionary document.
func LoadYAML(r io.Reader) (*Dictionary, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc file
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}
	return New(doc.Entries)
}

// New builds a dictionary from entries, validating entity types, versions and
// synonym uniqueness within each partition.
func New(entries []Entry) (*Dictionary, error) {
	if len(entries) == 0 {
		return nil, errors.New("dictionary has no entries")
	}
	d := &Dictionary{
		history: map[EntityType]map[string][]versioned{},
		index:   map[EntityType]map[string]string{},
	}
	seen := map[string]bool{}
	for i, e := range entries {
		if e.EntityType != EntityColumn && e.EntityType != EntityMetric {
			return nil, fmt.Errorf("entry %d: unknown entity_type %q", i, e.EntityType)
		}
		canonical := strings.TrimSpace(e.CanonicalName)
		if canonical == "" {
			return nil, fmt.Errorf("entry %d: canonical_name is empty", i)
		}
		v, err := semver.NewVersion(e.Version)
		if err != nil {
			return nil, fmt.Errorf("entry %d (%s): invalid version %q: %w", i, canonical, e.Version, err)
		}
		id := fmt.Sprintf("%s/%s@%s", e.EntityType, canonical, v.String())
		if seen[id] {
			return nil, fmt.Errorf("entry %d: duplicate %s", i, id)
		}
		seen[id] = true
		e.CanonicalName = canonical
		e.Synonyms = dedupe(e.Synonyms)
		if d.history[e.EntityType] == nil {
			d.history[e.EntityType] = map[string][]versioned{}
		}
		d.history[e.EntityType][canonical] = append(d.history[e.EntityType][canonical], versioned{entry: e, ver: v})
		if d.version == nil || v.GreaterThan(d.version) {
			d.version = v
		}
	}

	for entity, byName := range d.history {
		d.index[entity] = map[string]string{}
		names := make([]string, 0, len(byName))
		for name := range byName {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			versions := byName[name]
			sort.Slice(versions, func(i, j int) bool { return versions[i].ver.LessThan(versions[j].ver) })
			latest := versions[len(versions)-1].entry
			keys := append([]string{latest.CanonicalName}, latest.Synonyms...)
			for _, s := range keys {
				k := normalize.Key(s)
				if k == "" {
					continue
				}
				if prev, ok := d.index[entity][k]; ok && prev != name {
					return nil, fmt.Errorf("%w: %q maps to both %s and %s in %s partition", ErrConflict, s, prev, name, entity)
				}
				d.index[entity][k] = name
			}
		}
	}
	return d, nil
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Version returns the highest entry version in the dictionary.
func (d *Dictionary) Version() string {
	if d == nil || d.version == nil {
		return ""
	}
	return d.version.String()
}

// Resolve maps a name to its canonical form within one partition.
func (d *Dictionary) Resolve(entity EntityType, name string) (string, bool) {
	if d == nil {
		return "", false
	}
	canonical, ok := d.index[entity][normalize.Key(name)]
	return canonical, ok
}

// Has reports whether canonical exists in the partition.
func (d *Dictionary) Has(entity EntityType, canonical string) bool {
	_, ok := d.Lookup(entity, canonical)
	return ok
}

// Lookup returns the latest version of a canonical entry.
func (d *Dictionary) Lookup(entity EntityType, canonical string) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	versions := d.history[entity][canonical]
	if len(versions) == 0 {
		return Entry{}, false
	}
	return versions[len(versions)-1].entry, true
}

// History returns every version of a canonical entry, oldest first.
func (d *Dictionary) History(entity EntityType, canonical string) []Entry {
	if d == nil {
		return nil
	}
	versions := d.history[entity][canonical]
	out := make([]Entry, len(versions))
	for i, v := range versions {
		out[i] = v.entry
	}
	return out
}

// Entries returns the latest version of every entry in a partition, sorted by canonical name.
func (d *Dictionary) Entries(entity EntityType) []Entry {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.history[entity]))
	for name := range d.history[entity] {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		e, _ := d.Lookup(entity, name)
		out = append(out, e)
	}
	return out
}

// Enrich resolves every column against the column partition, preserving order.
func (d *Dictionary) Enrich(cols []schema.NormalizedColumn) schema.EnrichedSchema {
	out := schema.EnrichedSchema{Columns: make([]schema.EnrichedColumn, len(cols))}
	for i, c := range cols {
		canonical, _ := d.Resolve(EntityColumn, c.NormalizedName)
		out.Columns[i] = schema.EnrichedColumn{NormalizedColumn: c, Index: i, CanonicalName: canonical}
	}
	return out
}
