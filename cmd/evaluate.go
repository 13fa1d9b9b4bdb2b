package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/KaramelBytes/playbook-guard/internal/engine"
	"github.com/KaramelBytes/playbook-guard/internal/ingest"
	"github.com/KaramelBytes/playbook-guard/internal/utils"
)

var (
	evalFormat     string
	evalOutputPath string
	evalSave       bool
	evalSheetName  string
	evalSheetIndex int
	evalMaxRows    int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <file>",
	Short: "Select a playbook for a CSV/TSV/XLSX/JSON/DOCX file and print its audit card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(strings.TrimSpace(evalFormat))
		switch format {
		case "markdown", "md", "json":
		default:
			return fmt.Errorf("unsupported --format: %s (use markdown|json)", evalFormat)
		}

		ds, err := ingest.Load(args[0], ingest.Options{
			SheetName:  evalSheetName,
			SheetIndex: evalSheetIndex,
			MaxRows:    evalMaxRows,
		})
		if err != nil {
			return err
		}
		e, err := newEngine()
		if err != nil {
			return err
		}
		res, err := e.Run(cmd.Context(), *ds)
		if err != nil {
			return err
		}
		env, err := engine.NewEnvelope(res, uuid.NewString(), time.Now())
		if err != nil {
			return err
		}

		out := []byte(env.Markdown)
		if format == "json" {
			if out, err = utils.PrettyJSON(env); err != nil {
				return err
			}
		}

		stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
		if env.IsFallback {
			fmt.Fprintf(stderr, "⚠ No specialized playbook reached %d%%; using %s\n", settings().SelectThreshold, env.PlaybookID)
		}
		if evalOutputPath != "" {
			if err := utils.SafeWriteFile(evalOutputPath, out); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(stdout, "✓ Wrote audit card to %s\n", evalOutputPath)
		} else {
			fmt.Fprintln(stdout, strings.TrimRight(string(out), "\n"))
		}

		if evalSave {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			prior, err := st.FindByFingerprint(cmd.Context(), env.Fingerprint)
			if err != nil {
				return err
			}
			if len(prior) > 0 {
				fmt.Fprintf(stderr, "⚠ Identical audit card already stored as %s\n", prior[0].RequestID)
			}
			if err := st.Save(cmd.Context(), env); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "✓ Saved audit card %s\n", env.RequestID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringVarP(&evalFormat, "format", "f", "markdown", "output format: markdown|json")
	evaluateCmd.Flags().StringVarP(&evalOutputPath, "output", "o", "", "optional path to write the audit card")
	evaluateCmd.Flags().BoolVar(&evalSave, "save", false, "store the response in the audit database")
	evaluateCmd.Flags().StringVar(&evalSheetName, "sheet-name", "", "XLSX: sheet name to evaluate")
	evaluateCmd.Flags().IntVar(&evalSheetIndex, "sheet-index", 1, "XLSX: 1-based sheet index (used if --sheet-name not provided)")
	evaluateCmd.Flags().IntVar(&evalMaxRows, "max-rows", 0, "maximum data rows to read (0 = unlimited)")
}
