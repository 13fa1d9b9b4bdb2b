package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KaramelBytes/playbook-guard/internal/mcpserver"
)

var serveStore bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve evaluate_dataset and validate_action_plan as MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine()
		if err != nil {
			return err
		}
		srv := mcpserver.New(e)
		srv.Version = Version
		if serveStore {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			srv.Store = st
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return srv.ServeStdio(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveStore, "store", false, "allow evaluate_dataset to persist responses to the audit database")
}
