package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "github.com/KaramelBytes/playbook-guard/internal/config"
	"github.com/KaramelBytes/playbook-guard/internal/llm"
	"github.com/KaramelBytes/playbook-guard/internal/plan"
	"github.com/KaramelBytes/playbook-guard/internal/utils"
)

var (
	vpStrict bool
	vpJSON   bool

	rpProvider    string
	rpModel       string
	rpOllamaHost  string
	rpMaxReissues int
	rpOutputPath  string
	rpDryRun      bool
)

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	return b, nil
}

var validatePlanCmd = &cobra.Command{
	Use:   "validate-plan <file|->",
	Short: "Validate a 5W2H action plan and print the reissue prompt when it fails",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		rules := plan.DefaultRules()
		out := cmd.OutOrStdout()

		actions, err := plan.Normalize(raw)
		if err != nil {
			if !errors.Is(err, plan.ErrShape) {
				return err
			}
			fmt.Fprintf(out, "✗ Plan could not be read: %v\n\n", err)
			fmt.Fprintln(out, plan.ShapePrompt(err))
			if vpStrict {
				return err
			}
			return nil
		}

		res := plan.Validate(actions, rules)
		if vpJSON {
			b, err := utils.PrettyJSON(res)
			if err != nil {
				return err
			}
			fmt.Fprint(out, string(b))
		} else {
			printValidation(out, res)
			if !res.IsValid {
				fmt.Fprintln(out, "\n--- Reissue prompt ---")
				fmt.Fprintln(out, plan.ReissuePrompt(res, rules))
			}
		}
		if vpStrict && !res.IsValid {
			return fmt.Errorf("plan is invalid: %d error(s)", len(res.Errors))
		}
		return nil
	},
}

func printValidation(w io.Writer, res plan.ValidationResult) {
	m := res.Metrics
	if res.IsValid {
		fmt.Fprintf(w, "✓ Plan is valid: %d actions, avg how depth %.1f, %d quantifiable signals\n", m.ActionCount, m.AvgHowDepth, m.KPIsCount)
	} else {
		fmt.Fprintf(w, "✗ Plan is invalid: %d actions, avg how depth %.1f, %d quantifiable signals\n", m.ActionCount, m.AvgHowDepth, m.KPIsCount)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ✗ %s\n", e)
	}
	for _, wn := range res.Warnings {
		fmt.Fprintf(w, "  ⚠ %s\n", wn)
	}
}

var refinePlanCmd = &cobra.Command{
	Use:   "refine-plan <file|->",
	Short: "Re-issue an invalid action plan to a model until it validates or the budget runs out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		c := settings()
		out := cmd.OutOrStdout()

		if rpDryRun {
			rules := plan.DefaultRules()
			actions, err := plan.Normalize(raw)
			prompt := ""
			switch {
			case err != nil:
				prompt = plan.ShapePrompt(err)
			default:
				res := plan.Validate(actions, rules)
				printValidation(out, res)
				if res.IsValid {
					return nil
				}
				prompt = plan.ReissuePrompt(res, rules)
			}
			fmt.Fprintf(out, "\n--- Reissue prompt (~%d tokens) ---\n%s\n", utils.CountTokens(prompt)+utils.CountTokens(string(raw)), prompt)
			return nil
		}

		rt, providerName, err := buildRuntime(c, rpProvider, rpOllamaHost)
		if err != nil {
			return err
		}
		model := rpModel
		if model == "" {
			model = c.DefaultModel
		}
		budget := c.MaxReissues
		if cmd.Flags().Changed("max-reissues") {
			budget = rpMaxReissues
		}
		refiner := plan.NewRefiner(rt, model)
		refiner.MaxReissues = budget
		refiner.Logger = slog.Default()

		outcome, err := refiner.Refine(cmd.Context(), raw)
		if err != nil {
			return friendlyLLMError(err, providerName, model)
		}
		for _, a := range outcome.Attempts {
			line := fmt.Sprintf("Round %d: %d error(s)", a.Round, len(a.Result.Errors))
			if a.ShapeErr != "" {
				line = fmt.Sprintf("Round %d: unreadable (%s)", a.Round, a.ShapeErr)
			}
			if a.RequestID != "" {
				line += " [request " + a.RequestID + "]"
			}
			fmt.Fprintln(out, line)
		}
		printValidation(out, outcome.Result)
		if !outcome.Verified {
			fmt.Fprintf(cmd.ErrOrStderr(), "⚠ Plan still invalid after %d reissue(s); returning best effort\n", outcome.Reissues)
		}

		b, err := utils.PrettyJSON(outcome.Actions)
		if err != nil {
			return err
		}
		if rpOutputPath != "" {
			if err := utils.SafeWriteFile(rpOutputPath, b); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(out, "✓ Wrote plan to %s\n", rpOutputPath)
			return nil
		}
		fmt.Fprint(out, string(b))
		return nil
	},
}

// buildRuntime resolves the provider (flag > config > openrouter) and its
// credentials. OPENROUTER_API_KEY wins over the configured api_key.
func buildRuntime(c *cfgpkg.Global, providerFlag, hostFlag string) (llm.Runtime, string, error) {
	providerName := strings.ToLower(strings.TrimSpace(providerFlag))
	if providerName == "" {
		providerName = strings.ToLower(c.DefaultProvider)
	}
	switch providerName {
	case "", "openai", "anthropic", "google", "gemini", "meta", "llama":
		providerName = llm.ProviderOpenRouter
	case "local":
		providerName = llm.ProviderOllama
	}

	rc := c.LLMConfig()
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		rc.APIKey = v
	}
	if h := strings.TrimSpace(hostFlag); h != "" {
		rc.Host = h
	}
	if providerName == llm.ProviderOpenRouter && rc.APIKey == "" {
		return nil, providerName, errors.New("no API key: set OPENROUTER_API_KEY or 'pbguard config set api_key <key>'")
	}
	rt, ok := llm.NewRuntime(providerName, rc)
	if !ok {
		return nil, providerName, fmt.Errorf("provider not supported: %s (available: %s)", providerName, strings.Join(llm.Providers(), ", "))
	}
	return rt, providerName, nil
}

// friendlyLLMError adds a hint for the common failure classes.
func friendlyLLMError(err error, providerName, model string) error {
	var (
		authErr *llm.AuthError
		rlErr   *llm.RateLimitError
		nfErr   *llm.ModelNotFoundError
		qErr    *llm.QuotaExceededError
		sErr    *llm.ServerError
		unreach *llm.UnreachableError
	)
	switch {
	case errors.As(err, &unreach):
		if providerName == llm.ProviderOllama {
			return fmt.Errorf("Ollama not reachable at %s. Ensure it is running or set PBGUARD_OLLAMA_HOST: %w", unreach.Host, err)
		}
		return fmt.Errorf("endpoint unreachable. Check your network and provider settings: %w", err)
	case errors.As(err, &authErr):
		return fmt.Errorf("authentication failed: set OPENROUTER_API_KEY or add api_key in ~/.pbguard/config.yaml: %w", err)
	case errors.As(err, &rlErr):
		return fmt.Errorf("rate limited by provider, please retry: %w", err)
	case errors.As(err, &nfErr):
		if providerName == llm.ProviderOllama {
			return fmt.Errorf("local model not available (%s). Install it with 'ollama pull %s': %w", model, model, err)
		}
		return fmt.Errorf("model not found (%s): %w", model, err)
	case errors.As(err, &qErr):
		return fmt.Errorf("quota/billing issue. Check your provider account: %w", err)
	case errors.As(err, &sErr):
		return fmt.Errorf("provider appears unavailable (server error). Please retry later: %w", err)
	}
	return err
}

func init() {
	rootCmd.AddCommand(validatePlanCmd)
	validatePlanCmd.Flags().BoolVar(&vpStrict, "strict", false, "exit with an error when the plan is invalid")
	validatePlanCmd.Flags().BoolVar(&vpJSON, "json", false, "print the validation result as JSON")

	rootCmd.AddCommand(refinePlanCmd)
	refinePlanCmd.Flags().StringVar(&rpProvider, "provider", "", "LLM provider: openrouter|ollama (default from config)")
	refinePlanCmd.Flags().StringVar(&rpModel, "model", "", "model name (default from config)")
	refinePlanCmd.Flags().StringVar(&rpOllamaHost, "ollama-host", "", "override Ollama host (e.g., http://127.0.0.1:11434)")
	refinePlanCmd.Flags().IntVar(&rpMaxReissues, "max-reissues", plan.DefaultMaxReissues, fmt.Sprintf("reissue budget (capped at %d)", plan.HardMaxReissues))
	refinePlanCmd.Flags().StringVarP(&rpOutputPath, "output", "o", "", "write the final plan JSON to this path")
	refinePlanCmd.Flags().BoolVar(&rpDryRun, "dry-run", false, "validate and print the reissue prompt without calling a model")
}
