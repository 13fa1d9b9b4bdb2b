package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/semantic"
)

// Catalog is the read-mostly configuration a run works against. It is
// never mutated after NewCatalog; reloading builds a new one.
type Catalog struct {
	Dictionary *semantic.Dictionary
	Registry   *playbook.Registry
	Policy     playbook.Policy
}

// NewCatalog checks that the registry only refers to canonical columns the
// dictionary defines, including the built-in generic playbook.
func NewCatalog(dict *semantic.Dictionary, reg *playbook.Registry, pol playbook.Policy) (*Catalog, error) {
	if dict == nil || reg == nil {
		return nil, errors.New("catalog needs a dictionary and a playbook registry")
	}
	if err := pol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	var unknown []string
	seen := map[string]bool{}
	check := func(where, name string) {
		if name == "" || dict.Has(semantic.EntityColumn, name) {
			return
		}
		msg := fmt.Sprintf("%s: %s", where, name)
		if !seen[msg] {
			seen[msg] = true
			unknown = append(unknown, msg)
		}
	}
	pbs := append(reg.Playbooks(), playbook.Generic())
	for _, pb := range pbs {
		for _, req := range pb.RequiredColumns {
			check(pb.ID+" requires", req.Name)
		}
		for _, sec := range pb.Sections {
			where := pb.ID + "/" + sec.ID
			check(where+" suggests", sec.Precondition.Suggest)
			check(where+" groups by", sec.GroupBy)
			for _, req := range sec.Precondition.Columns {
				check(where+" requires", req.Name)
			}
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("playbooks refer to columns missing from dictionary %s: %v", dict.Version(), unknown)
	}
	return &Catalog{Dictionary: dict, Registry: reg, Policy: pol}, nil
}

// DefaultCatalog uses the embedded dictionary and registry with the default policy.
func DefaultCatalog() (*Catalog, error) {
	return LoadCatalog("", "", playbook.DefaultPolicy())
}

// LoadCatalog reads the dictionary and registry from files, falling back to
// the embedded defaults for empty paths.
func LoadCatalog(dictPath, playbooksPath string, pol playbook.Policy) (*Catalog, error) {
	var (
		dict *semantic.Dictionary
		reg  *playbook.Registry
		err  error
	)
	if dictPath == "" {
		dict, err = semantic.Default()
	} else {
		dict, err = semantic.LoadFile(dictPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load dictionary: %w", err)
	}
	if playbooksPath == "" {
		reg, err = playbook.Default()
	} else {
		reg, err = playbook.LoadFile(playbooksPath)
	}
	if err != nil {
		return nil, fmt.Errorf("load playbooks: %w", err)
	}
	return NewCatalog(dict, reg, pol)
}
