package plan

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/KaramelBytes/playbook-guard/internal/normalize"
)

// Rules are the thresholds a plan is held to.
type Rules struct {
	MinActions      int `json:"min_actions"`
	MaxActions      int `json:"max_actions"`
	MinHowSteps     int `json:"min_how_steps"`
	MinSignals      int `json:"min_signals"`
	MaxSignalsCount int `json:"max_signals_count"`
}

// DefaultRules returns 4..8 actions, 7 steps and 2 quantifiable signals per action.
func DefaultRules() Rules {
	return Rules{MinActions: 4, MaxActions: 8, MinHowSteps: 7, MinSignals: 2, MaxSignalsCount: 10}
}

// Metrics summarize a plan.
type Metrics struct {
	ActionCount int     `json:"action_count"`
	AvgHowDepth float64 `json:"avg_how_depth"`
	KPIsCount   int     `json:"kpis_count"`
}

// ActionReport is the per-action detail behind the result.
type ActionReport struct {
	Index        int      `json:"index"`
	What         string   `json:"what"`
	Steps        int      `json:"steps"`
	StepStrategy string   `json:"step_strategy"`
	Signals      int      `json:"signals"`
	Errors       []string `json:"errors,omitempty"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ValidationResult is the outcome of one validation call.
type ValidationResult struct {
	IsValid  bool           `json:"is_valid"`
	Errors   []string       `json:"errors"`
	Warnings []string       `json:"warnings"`
	Metrics  Metrics        `json:"metrics"`
	Actions  []ActionReport `json:"actions,omitempty"`
}

var genericWhat = []*regexp.Regexp{
	// a bare verb with at most one object word: "melhorar vendas", "reduce costs"
	regexp.MustCompile(`^(melhorar|otimizar|aumentar|reduzir|aprimorar|ajustar|revisar|analisar|monitorar|acompanhar|improve|optimize|increase|reduce|enhance|adjust|review|analy[sz]e|monitor|track)( (o|a|os|as|the))?( [a-z0-9]+)?$`),
	regexp.MustCompile(`^(treinar|capacitar|engajar|motivar|train|coach|engage|motivate) (a |o |the )?(equipe|time|colaboradores|funcionarios|pessoal|pessoas|team|staff|people|employees)$`),
	regexp.MustCompile(`^(fazer|realizar|criar|do|hold|create) (uma |um |a |an )?(reuniao|reunioes|plano|estrategia|acao|meeting|meetings|plan|strategy|action)$`),
	regexp.MustCompile(`^(melhorar|improve) (a |o |os |as |the )?(gestao|comunicacao|processos?|resultados?|performance|desempenho|eficiencia|qualidade|management|communication|process(es)?|results?|efficiency|quality)$`),
}

// quantSignals recognize measurable content; matching runs on folded text.
var quantSignals = []*regexp.Regexp{
	// percentages
	regexp.MustCompile(`\d+(?:[.,]\d+)?\s?%`),
	// currency amounts
	regexp.MustCompile(`(?:r\$|us\$|\$|€|£)\s?\d[\d.,]*(?:\s?(?:mil|k|mi|milhoes|milhao|million|bn))?`),
	regexp.MustCompile(`\b\d[\d.,]*\s?(?:mil\s)?(?:reais|dolares|dollars|euros|brl|usd)\b`),
	// quantity with unit
	regexp.MustCompile(`\b\d+(?:[.,]\d+)?\s?(?:dias?|semanas?|meses|mes|horas?|h|minutos?|min|unidades?|un|pecas?|itens|skus?|pedidos?|clientes?|kg|toneladas?|t|km|m2|pallets?|caixas?|visitas?|days?|weeks?|months?|hours?|units?|items?|orders?|customers?|pcs|visits?)\b`),
	// from X to Y
	regexp.MustCompile(`\b(?:de|from)\s+\S*\d[\d.,]*\S*\s+(?:para|a|ate|to)\s+\S*\d`),
	// explicit goals
	regexp.MustCompile(`\b(?:meta|alvo|objetivo|target|goal|kpi)\b[^.\n]{0,40}?\d`),
}

var (
	reSistema        = regexp.MustCompile(`\bsistemas?\b`)
	reSystemCategory = regexp.MustCompile(`\b(crm|erp|bi|wms|tms|mes|pdv|pos|scm|hcm|hris|bpm|ecommerce|e-commerce|power bi|tableau|excel|planilhas?|sap|totvs|salesforce)\b`)
	reQualifier      = regexp.MustCompile(`\b(?:tipo|exemplo|similar|como o|como a|such as|like)\b|\bex\.|\be\.g\.`)
)

// IsGenericWhat reports whether what is one of the known overly generic phrasings.
func IsGenericWhat(what string) bool {
	s := strings.Trim(normalize.Fold(what), " .!;:")
	for _, re := range genericWhat {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// CountSignals counts non-overlapping quantifiable signals in text, capped at limit.
func CountSignals(text string, limit int) int {
	s := normalize.Fold(text)
	var spans [][2]int
	for _, re := range quantSignals {
		for _, m := range re.FindAllStringIndex(s, -1) {
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}
	if len(spans) == 0 {
		return 0
	}
	sort.Slice(spans, func(i, j int) bool {
		if spans[i][0] != spans[j][0] {
			return spans[i][0] < spans[j][0]
		}
		return spans[i][1] > spans[j][1]
	})
	n, end := 0, -1
	for _, sp := range spans {
		if sp[0] < end {
			end = max(end, sp[1])
			continue
		}
		n++
		end = sp[1]
	}
	if limit > 0 && n > limit {
		n = limit
	}
	return n
}

func label(i int, a Action) string {
	what := strings.TrimSpace(a.What)
	if r := []rune(what); len(r) > 60 {
		what = string(r[:57]) + "..."
	}
	if what == "" {
		return fmt.Sprintf("Action %d", i+1)
	}
	return fmt.Sprintf("Action %d (%q)", i+1, what)
}

// Validate checks a plan against rules. Each error names exactly one action
// or the plan as a whole.
func Validate(actions []Action, rules Rules) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	n := len(actions)
	res.Metrics.ActionCount = n
	if n < rules.MinActions {
		res.Errors = append(res.Errors, fmt.Sprintf("The plan has %d actions; at least %d are required.", n, rules.MinActions))
	}
	if rules.MaxActions > 0 && n > rules.MaxActions {
		res.Warnings = append(res.Warnings, fmt.Sprintf("The plan has %d actions; more than %d dilutes focus.", n, rules.MaxActions))
	}

	var totalSteps int
	for i, a := range actions {
		rep := validateAction(i, a, rules)
		totalSteps += rep.Steps
		res.Metrics.KPIsCount += rep.Signals
		res.Errors = append(res.Errors, rep.Errors...)
		res.Warnings = append(res.Warnings, rep.Warnings...)
		res.Actions = append(res.Actions, rep)
	}
	if n > 0 {
		res.Metrics.AvgHowDepth = math.Round(float64(totalSteps)/float64(n)*100) / 100
	}
	res.IsValid = len(res.Errors) == 0
	return res
}

func validateAction(i int, a Action, rules Rules) ActionReport {
	lb := label(i, a)
	rep := ActionReport{Index: i + 1, What: a.What}

	switch {
	case strings.TrimSpace(a.What) == "":
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: \"what\" is empty; state the concrete action.", lb))
	case IsGenericWhat(a.What):
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: \"what\" is too generic; name the specific object, scope and expected change.", lb))
	}

	rep.Steps, rep.StepStrategy = CountSteps(a.How)
	if rep.Steps < rules.MinHowSteps {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: \"how\" has %d steps; at least %d discrete steps are required.", lb, rep.Steps, rules.MinHowSteps))
	}

	rep.Signals = CountSignals(a.Why+"\n"+a.How, rules.MaxSignalsCount)
	if rep.Signals < rules.MinSignals {
		rep.Errors = append(rep.Errors, fmt.Sprintf("%s: \"why\" and \"how\" contain %d quantifiable signals; at least %d are required (percentages, amounts, quantities with units, from X to Y, explicit goals).", lb, rep.Signals, rules.MinSignals))
	}

	full := normalize.Fold(strings.Join([]string{a.What, a.Who, a.Where, a.How, a.HowMuch}, " "))
	if reSistema.MatchString(full) && !reSystemCategory.MatchString(full) && !reQualifier.MatchString(full) {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: mentions a generic \"sistema\"; name its category (CRM, ERP, BI, WMS, TMS) or give an example (\"tipo ...\", \"similar a ...\").", lb))
	}
	var missing []string
	for _, f := range []struct{ name, v string }{{"who", a.Who}, {"when", a.When}, {"where", a.Where}, {"how_much", a.HowMuch}} {
		if strings.TrimSpace(f.v) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("%s: missing %s.", lb, strings.Join(missing, ", ")))
	}
	return rep
}
