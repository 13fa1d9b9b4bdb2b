package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/playbook-guard/internal/config"
	"github.com/KaramelBytes/playbook-guard/internal/engine"
	"github.com/KaramelBytes/playbook-guard/internal/store"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	debug   bool
	// Retry/HTTP flags (override config if set)
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	// Catalog flags shared by evaluate and serve
	flagDictionary string
	flagPlaybooks  string

	// Loaded configuration
	cfg *cfgpkg.Global
)

var rootCmd = &cobra.Command{
	Use:   "pbguard",
	Short: "Playbook selection and guardrails for tabular datasets",
	Long: `pbguard reads a spreadsheet or delimited file, normalizes and classifies its columns,
selects the analysis playbook the data can support and reports which sections are enabled,
which are disabled and why, as an audit card.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(setupLogging, loadConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.pbguard/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug output")
	rootCmd.PersistentFlags().IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "HTTP client timeout in seconds (overrides config)")
	rootCmd.PersistentFlags().IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max retry attempts on 429/5xx (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagDictionary, "dictionary", "", "semantic dictionary YAML (overrides config; default is built in)")
	rootCmd.PersistentFlags().StringVar(&flagPlaybooks, "playbooks", "", "playbook registry YAML (overrides config; default is built in)")
}

func setupLogging() {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: fall back to defaults so read-only commands still work
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		c = cfgpkg.Defaults()
	}
	cfg = c

	f := rootCmd.PersistentFlags()
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if flagDictionary != "" {
		cfg.DictionaryPath = flagDictionary
	}
	if flagPlaybooks != "" {
		cfg.PlaybooksPath = flagPlaybooks
	}
}

// settings returns the loaded configuration, or defaults when none was loaded.
func settings() *cfgpkg.Global {
	if cfg == nil {
		cfg = cfgpkg.Defaults()
	}
	return cfg
}

// newEngine builds the engine from the configured catalog files and thresholds.
func newEngine() (*engine.Engine, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	slog.Debug("catalog loaded", "dictionary", cat.Dictionary.Version(), "playbooks", cat.Registry.Len())
	return engine.New(cat, engine.WithLogger(slog.Default()))
}

// openStore opens the audit database at the configured path, creating its
// directory when needed.
func openStore() (*store.AuditStore, error) {
	path := settings().DBPath
	if path == "" {
		dir, err := cfgpkg.Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "audit.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit store dir: %w", err)
	}
	return store.Open(path)
}
