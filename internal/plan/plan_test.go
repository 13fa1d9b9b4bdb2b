package plan_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/KaramelBytes/playbook-guard/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goodAction(i int) plan.Action {
	return plan.Action{
		What: fmt.Sprintf("Implantar contagem cíclica semanal dos 50 SKUs de maior giro da rua %c", 'A'+i),
		Why:  "Reduzir a divergência de estoque de 8% para 2% em 90 dias",
		Who:  "Supervisor de inventário",
		When: "A partir da próxima segunda-feira",
		Where: "Centro de distribuição",
		How: strings.Join([]string{
			"1. Extrair do ERP a lista dos 50 SKUs de maior giro",
			"2. Definir escala semanal com 2 conferentes",
			"3. Imprimir as fichas de contagem por endereço",
			"4. Contar os itens antes da abertura do turno",
			"5. Lançar as diferenças no ERP em até 24 horas",
			"6. Investigar toda divergência acima de 5%",
			"7. Publicar o indicador semanal para a gerência",
		}, "\n"),
		HowMuch: "R$ 2.000 por mês",
	}
}

func goodPlan(n int) []plan.Action {
	out := make([]plan.Action, n)
	for i := range out {
		out[i] = goodAction(i)
	}
	return out
}

func TestWellFormedPlanIsValid(t *testing.T) {
	res := plan.Validate(goodPlan(8), plan.DefaultRules())
	require.True(t, res.IsValid, "errors: %v", res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 8, res.Metrics.ActionCount)
	assert.Equal(t, 7.0, res.Metrics.AvgHowDepth)
	assert.GreaterOrEqual(t, res.Metrics.KPIsCount, 16)
}

func TestActionCountBounds(t *testing.T) {
	res := plan.Validate(goodPlan(3), plan.DefaultRules())
	assert.False(t, res.IsValid)
	assert.Contains(t, res.Errors[0], "3 actions")

	res = plan.Validate(goodPlan(9), plan.DefaultRules())
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "9 actions")
}

func TestShallowHowIsAnErrorNamingTheAction(t *testing.T) {
	p := goodPlan(4)
	p[2].How = "1. Contar os itens em 2 dias\n2. Ajustar 10% do cadastro\n3. Reportar"
	res := plan.Validate(p, plan.DefaultRules())
	require.False(t, res.IsValid)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Action 3")
	assert.Contains(t, res.Errors[0], "\"how\" has")
}

func TestGenericWhat(t *testing.T) {
	for _, w := range []string{"Melhorar vendas", "treinar equipe", "Treinar a equipe.", "Improve the process", "fazer reunião", "Otimizar"} {
		assert.True(t, plan.IsGenericWhat(w), w)
	}
	for _, w := range []string{
		"Treinar a equipe de expedição no novo procedimento de conferência",
		"Renegociar o prazo de entrega com os 3 maiores fornecedores",
	} {
		assert.False(t, plan.IsGenericWhat(w), w)
	}
	p := goodPlan(4)
	p[0].What = "Melhorar vendas"
	res := plan.Validate(p, plan.DefaultRules())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "too generic")
}

func TestCountSignals(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"de 8% para 2% em 90 dias", 2},
		{"investir R$ 10.000 no projeto", 1},
		{"meta de 95 no indicador", 1},
		{"economia de 3 mil reais", 1},
		{"sem números aqui", 0},
		{strings.Repeat("1% ", 15), 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, plan.CountSignals(tt.text, 10), tt.text)
	}
}

func TestCountStepsStrategies(t *testing.T) {
	tests := []struct {
		how      string
		steps    int
		strategy string
	}{
		{"1. a b\n2. c d\n3. e f\n4. g h\n5. i j", 5, "numbered"},
		{"Passo 1: contar; Passo 2: conferir; Passo 3: ajustar; Passo 4: reportar", 4, "numbered"},
		{"levantar os itens; definir responsáveis; treinar conferentes, executar contagens, registrar diferenças", 5, "delimited"},
		{"- Contar\n- Conferir\n- Ajustar\n- Reportar", 4, "bullets"},
		{"Contar. Conferir. Ajustar.", 3, "sentences"},
		{"", 0, "empty"},
	}
	for _, tt := range tests {
		n, s := plan.CountSteps(tt.how)
		assert.Equal(t, tt.steps, n, tt.how)
		assert.Equal(t, tt.strategy, s, tt.how)
	}
	long := strings.Repeat("Feito. ", 30)
	n, s := plan.CountSteps(long)
	assert.Equal(t, "sentences", s)
	assert.Equal(t, 15, n)
}

func TestSistemaWarning(t *testing.T) {
	p := goodPlan(4)
	p[1].How = strings.ReplaceAll(p[1].How, "ERP", "cadastro")
	p[1].Where = "no sistema"
	res := plan.Validate(p, plan.DefaultRules())
	assert.True(t, res.IsValid)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "Action 2")

	p[1].Where = "no sistema tipo WMS"
	res = plan.Validate(p, plan.DefaultRules())
	assert.Empty(t, res.Warnings)
}

func TestNormalizeAcceptsBilingualShapes(t *testing.T) {
	pt := `{"plano de ação": [{"o que": "Contar", "por quê": "x", "quem": "Ana", "quando": "jan", "onde": "CD", "como": ["a", "b"], "quanto custa": 100}]}`
	acts, err := plan.Normalize([]byte(pt))
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, plan.Action{What: "Contar", Why: "x", Who: "Ana", When: "jan", Where: "CD", How: "1. a\n2. b", HowMuch: "100"}, acts[0])

	en := "```json\n[{\"what\": \"Count\", \"howMuch\": \"$5\"}]\n```"
	acts, err = plan.Normalize([]byte(en))
	require.NoError(t, err)
	assert.Equal(t, "$5", acts[0].HowMuch)

	acts, err = plan.Normalize([]byte(`{"actions": [{"what": "A"}], "notes": "ignored"}`))
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestNormalizeRejectsBadShapes(t *testing.T) {
	for _, raw := range []string{``, `"just text"`, `{"foo": []}`, `[1, 2]`, `{"acoes": "x"}`, `[{"what": {"nested": true}}]`, `[{}]`} {
		_, err := plan.Normalize([]byte(raw))
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, plan.ErrShape), "%s: %v", raw, err)
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	p := goodPlan(4)
	before, _ := json.Marshal(p)
	plan.Validate(p, plan.DefaultRules())
	after, _ := json.Marshal(p)
	assert.Equal(t, string(before), string(after))
}

func TestReissuePrompt(t *testing.T) {
	p := goodPlan(3)
	p[0].How = "Contar."
	res := plan.Validate(p, plan.DefaultRules())
	require.False(t, res.IsValid)

	prompt := plan.ReissuePrompt(res, plan.DefaultRules())
	for _, e := range res.Errors {
		assert.Contains(t, prompt, e)
	}
	assert.Contains(t, prompt, "actions: 3 (target 4 to 8)")
	assert.True(t, strings.HasSuffix(prompt, plan.ReissueDirective))
}
