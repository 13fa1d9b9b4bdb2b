package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/playbook-guard/internal/engine"
	"github.com/KaramelBytes/playbook-guard/internal/playbook"
	"github.com/KaramelBytes/playbook-guard/internal/semantic"
	"github.com/KaramelBytes/playbook-guard/internal/utils"
)

var (
	pbJSON     bool
	dictEntity string
)

func loadCatalog() (*engine.Catalog, error) {
	c := settings()
	cat, err := engine.LoadCatalog(c.DictionaryPath, c.PlaybooksPath, c.Policy())
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	return cat, nil
}

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "Inspect the playbook registry",
}

var playbooksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List playbooks with their required columns and sections",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		pbs := append(cat.Registry.Playbooks(), playbook.Generic())
		out := cmd.OutOrStdout()
		if pbJSON {
			b, err := utils.PrettyJSON(pbs)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(b))
			return nil
		}
		for _, p := range pbs {
			fmt.Fprintf(out, "- %s: %s\n", p.ID, p.Name)
			if len(p.RequiredColumns) > 0 {
				reqs := make([]string, len(p.RequiredColumns))
				for i, r := range p.RequiredColumns {
					reqs[i] = r.String()
				}
				fmt.Fprintf(out, "    requires: %s\n", strings.Join(reqs, ", "))
			}
			ids := make([]string, len(p.Sections))
			for i, s := range p.Sections {
				ids[i] = s.ID
			}
			fmt.Fprintf(out, "    sections: %s\n", strings.Join(ids, ", "))
		}
		return nil
	},
}

var dictionaryCmd = &cobra.Command{
	Use:   "dictionary",
	Short: "Inspect the semantic dictionary",
}

var dictionaryLookupCmd = &cobra.Command{
	Use:   "lookup <name>",
	Short: "Resolve a header or canonical name and show its synonyms and versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		entity := semantic.EntityType(dictEntity)
		name := args[0]
		canonical, ok := cat.Dictionary.Resolve(entity, name)
		if !ok {
			if !cat.Dictionary.Has(entity, name) {
				return fmt.Errorf("%q does not match any %s in dictionary %s", name, entity, cat.Dictionary.Version())
			}
			canonical = name
		}
		e, _ := cat.Dictionary.Lookup(entity, canonical)
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s → %s (v%s)\n", name, e.CanonicalName, e.Version)
		if e.Description != "" {
			fmt.Fprintf(out, "  %s\n", e.Description)
		}
		fmt.Fprintf(out, "  synonyms: %s\n", strings.Join(e.Synonyms, ", "))
		if hist := cat.Dictionary.History(entity, canonical); len(hist) > 1 {
			vs := make([]string, len(hist))
			for i, h := range hist {
				vs[i] = h.Version
			}
			fmt.Fprintf(out, "  versions: %s\n", strings.Join(vs, ", "))
		}
		return nil
	},
}

var dictionaryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List canonical names",
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, err := loadCatalog()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "dictionary %s\n", cat.Dictionary.Version())
		for _, e := range cat.Dictionary.Entries(semantic.EntityType(dictEntity)) {
			fmt.Fprintf(out, "- %s (%d synonyms)\n", e.CanonicalName, len(e.Synonyms))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(playbooksCmd)
	playbooksCmd.AddCommand(playbooksListCmd)
	playbooksListCmd.Flags().BoolVar(&pbJSON, "json", false, "print the registry as JSON")

	rootCmd.AddCommand(dictionaryCmd)
	dictionaryCmd.AddCommand(dictionaryLookupCmd)
	dictionaryCmd.AddCommand(dictionaryListCmd)
	dictionaryCmd.PersistentFlags().StringVar(&dictEntity, "entity", string(semantic.EntityColumn), "dictionary partition: column|metric")
}
