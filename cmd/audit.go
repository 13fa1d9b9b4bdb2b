package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/playbook-guard/internal/utils"
)

var (
	auditLimit  int
	auditFormat string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Browse audit cards saved with 'evaluate --save'",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved audit cards, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		items, err := st.List(cmd.Context(), auditLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "(no audit cards)")
			return nil
		}
		for _, it := range items {
			fallback := ""
			if it.IsFallback {
				fallback = " (fallback)"
			}
			name := it.FileName
			if name == "" {
				name = "-"
			}
			fmt.Fprintf(out, "- %s  %s  %s  %s%s\n", it.RequestID, it.GeneratedAt.Local().Format(time.DateTime), name, it.PlaybookID, fallback)
		}
		return nil
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show <request-id>",
	Short: "Print a saved audit card",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		env, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		switch strings.ToLower(auditFormat) {
		case "json":
			b, err := utils.PrettyJSON(env)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(b))
		case "markdown", "md":
			fmt.Fprintln(out, strings.TrimRight(env.Markdown, "\n"))
		default:
			return fmt.Errorf("unsupported --format: %s (use markdown|json)", auditFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditShowCmd)
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "maximum entries to list")
	auditShowCmd.Flags().StringVarP(&auditFormat, "format", "f", "markdown", "output format: markdown|json")
}
