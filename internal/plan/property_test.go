package plan_test

import (
	"strings"
	"testing"

	"github.com/KaramelBytes/playbook-guard/internal/plan"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// stripSignals keeps seven steps but removes every measurable quantity.
func stripSignals(a plan.Action) plan.Action {
	a.Why = "Melhorar a confiabilidade do inventário da operação"
	a.How = "levantar os itens críticos; definir os responsáveis; treinar os conferentes; executar as contagens; registrar as diferenças; investigar as causas; ajustar o cadastro"
	return a
}

func TestStrippingSignalsFlipsOnlyThatAction(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("one action without signals invalidates the plan and nothing else", prop.ForAll(
		func(n, k int) bool {
			k %= n
			p := goodPlan(n)
			before := plan.Validate(p, plan.DefaultRules())
			if !before.IsValid {
				return false
			}
			p[k] = stripSignals(p[k])
			after := plan.Validate(p, plan.DefaultRules())
			if after.IsValid || len(after.Errors) != 1 || !strings.Contains(after.Errors[0], "quantifiable signals") {
				return false
			}
			for j := range p {
				if j == k {
					continue
				}
				if len(after.Actions[j].Errors) != len(before.Actions[j].Errors) {
					return false
				}
			}
			return after.Actions[k].Steps >= 7
		},
		gen.IntRange(4, 8),
		gen.IntRange(0, 7),
	))

	properties.Property("validation is deterministic", prop.ForAll(
		func(n int) bool {
			p := goodPlan(n)
			a, b := plan.Validate(p, plan.DefaultRules()), plan.Validate(p, plan.DefaultRules())
			return a.IsValid == b.IsValid && strings.Join(a.Errors, "|") == strings.Join(b.Errors, "|") && a.Metrics == b.Metrics
		},
		gen.IntRange(0, 12),
	))

	properties.TestingRun(t)
}
