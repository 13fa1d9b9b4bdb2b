package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// runCmd executes the root command with args and returns its stdout.
func runCmd(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execCmd(args...)
	if err != nil {
		t.Fatalf("command %v failed: %v\n%s", args, err, out)
	}
	return out
}

func execCmd(args ...string) (string, error) {
	// Reset bound variables so flags do not leak between invocations
	evalFormat, evalOutputPath, evalSave = "markdown", "", false
	evalSheetName, evalSheetIndex, evalMaxRows = "", 1, 0
	vpStrict, vpJSON = false, false
	rpDryRun = false
	auditFormat, auditLimit = "markdown", 20
	flagDictionary, flagPlaybooks = "", ""
	rpProvider, rpOllamaHost = "", ""
	cfgFile = ""
	cfg = nil
	// Reset sticky flags that may persist Changed state across invocations
	for _, name := range []string{"http-timeout", "retry-max"} {
		if fl := rootCmd.PersistentFlags().Lookup(name); fl != nil {
			_ = fl.Value.Set("0")
			fl.Changed = false
		}
	}
	if fl := refinePlanCmd.Flags().Lookup("max-reissues"); fl != nil {
		_ = fl.Value.Set(fl.DefValue)
		fl.Changed = false
	}

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func isolateHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENROUTER_API_KEY", "")
	return home
}

func writeInventoryCSV(t *testing.T, dir string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("SKU;Categoria;Saldo Anterior (Unid.);Entrada (un);Saída;Contagem Física\n")
	cats := []string{"Bebidas", "Limpeza", "Mercearia"}
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "SKU-%03d;%s;%d,5;%d,25;%d,75;%d,0\n", i, cats[i%3], 100+i, 10+i%7, 5+i%3, 104+i)
	}
	p := filepath.Join(dir, "estoque.csv")
	if err := os.WriteFile(p, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return p
}

func TestCLI_EvaluateMarkdown(t *testing.T) {
	home := isolateHome(t)
	p := writeInventoryCSV(t, home)

	out := runCmd(t, "evaluate", p)
	for _, want := range []string{"## Audit card", "pb_estoque_divergencias_v1", "To enable temporal_trend", "estoque.csv"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestCLI_EvaluateJSONToFileAndSave(t *testing.T) {
	home := isolateHome(t)
	p := writeInventoryCSV(t, home)
	outPath := filepath.Join(home, "out", "card.json")

	runCmd(t, "evaluate", p, "--format", "json", "-o", outPath, "--save")
	b, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var env struct {
		RequestID  string `json:"request_id"`
		PlaybookID string `json:"playbook_id"`
		Card       struct {
			Source struct {
				Dialect string `json:"dialect"`
			} `json:"source"`
		} `json:"audit_card"`
	}
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.PlaybookID != "pb_estoque_divergencias_v1" || env.RequestID == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if _, err := os.Stat(filepath.Join(home, ".pbguard", "audit.db")); err != nil {
		t.Fatalf("audit db not created: %v", err)
	}

	list := runCmd(t, "audit", "list")
	if !strings.Contains(list, env.RequestID) || !strings.Contains(list, "estoque.csv") {
		t.Fatalf("audit list missing entry:\n%s", list)
	}
	shown := runCmd(t, "audit", "show", env.RequestID)
	if !strings.Contains(shown, "## Audit card") {
		t.Fatalf("audit show:\n%s", shown)
	}

	// A second identical run is flagged as a repeat.
	again := runCmd(t, "evaluate", p, "--save")
	if !strings.Contains(again, "Identical audit card already stored as "+env.RequestID) {
		t.Fatalf("expected repeat notice:\n%s", again)
	}
}

func TestCLI_EvaluateErrors(t *testing.T) {
	home := isolateHome(t)
	p := writeInventoryCSV(t, home)
	if _, err := execCmd("evaluate", p, "--format", "xml"); err == nil {
		t.Fatal("expected format error")
	}
	bad := filepath.Join(home, "deck.pptx")
	if err := os.WriteFile(bad, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execCmd("evaluate", bad); err == nil {
		t.Fatal("expected unsupported format error")
	}
	if _, err := execCmd("audit", "show", "nope"); err == nil {
		t.Fatal("expected not found")
	}
}

const shallowPlan = `[{"what":"Revisar preços dos 20 produtos com menor margem","why":"Subir a margem em 5%","how":"Levantar dados"}]`

func TestCLI_ValidatePlan(t *testing.T) {
	home := isolateHome(t)
	p := filepath.Join(home, "plan.json")
	if err := os.WriteFile(p, []byte(shallowPlan), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := runCmd(t, "validate-plan", p)
	if !strings.Contains(out, "✗ Plan is invalid") || !strings.Contains(out, "--- Reissue prompt ---") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if _, err := execCmd("validate-plan", p, "--strict"); err == nil {
		t.Fatal("expected strict failure")
	}
	jsonOut := runCmd(t, "validate-plan", p, "--json")
	if !strings.Contains(jsonOut, `"is_valid": false`) {
		t.Fatalf("json output:\n%s", jsonOut)
	}
}

func TestCLI_RefinePlanDryRunAndMissingKey(t *testing.T) {
	home := isolateHome(t)
	p := filepath.Join(home, "plan.json")
	if err := os.WriteFile(p, []byte(shallowPlan), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := runCmd(t, "refine-plan", p, "--dry-run")
	if !strings.Contains(out, "Reissue prompt (~") {
		t.Fatalf("dry run output:\n%s", out)
	}
	if _, err := execCmd("refine-plan", p, "--provider", "openrouter"); err == nil || !strings.Contains(err.Error(), "no API key") {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestCLI_CatalogCommands(t *testing.T) {
	isolateHome(t)
	out := runCmd(t, "playbooks", "list")
	if !strings.Contains(out, "pb_estoque_divergencias_v1") || !strings.Contains(out, "generic_exploratory_v1") {
		t.Fatalf("playbooks list:\n%s", out)
	}
	out = runCmd(t, "dictionary", "lookup", "Saída")
	if !strings.Contains(out, "qty_out") {
		t.Fatalf("dictionary lookup:\n%s", out)
	}
	if _, err := execCmd("dictionary", "lookup", "definitely not a column"); err == nil {
		t.Fatal("expected lookup miss")
	}
}

func TestCLI_ConfigSetAndShow(t *testing.T) {
	home := isolateHome(t)
	runCmd(t, "config", "set", "group_min_rows", "15")
	runCmd(t, "config", "set", "api_key", "sk-abcdefghijkl")
	if _, err := os.Stat(filepath.Join(home, ".pbguard", "config.yaml")); err != nil {
		t.Fatalf("config not saved: %v", err)
	}
	out := runCmd(t, "config", "show")
	if !strings.Contains(out, "group_min_rows: 15") {
		t.Fatalf("config show:\n%s", out)
	}
	if strings.Contains(out, "sk-abcdefghijkl") || !strings.Contains(out, "sk-****jkl") {
		t.Fatalf("api key not masked:\n%s", out)
	}
	if _, err := execCmd("config", "set", "gate_cap", "99"); err == nil {
		t.Fatal("expected invalid policy error")
	}
}
