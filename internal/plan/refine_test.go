package plan_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/KaramelBytes/playbook-guard/internal/llm"
	"github.com/KaramelBytes/playbook-guard/internal/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRuntime struct {
	replies []string
	calls   int
	prompts []string
	err     error
}

func (s *scriptedRuntime) Generate(_ context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.prompts = append(s.prompts, req.Messages[len(req.Messages)-1].Content)
	reply := s.replies[min(s.calls, len(s.replies)-1)]
	s.calls++
	return &llm.GenerateResponse{
		Choices:   []llm.Choice{{Message: llm.Message{Role: "assistant", Content: reply}}},
		RequestID: "req-" + string(rune('0'+s.calls)),
	}, nil
}

func planJSON(t *testing.T, actions []plan.Action) []byte {
	t.Helper()
	b, err := json.Marshal(actions)
	require.NoError(t, err)
	return b
}

func TestRefineValidPlanNeedsNoReissue(t *testing.T) {
	rt := &scriptedRuntime{}
	out, err := plan.NewRefiner(rt, "m").Refine(context.Background(), planJSON(t, goodPlan(5)))
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, 0, out.Reissues)
	assert.Equal(t, 0, rt.calls)
}

func TestRefineRecoversAfterOneReissue(t *testing.T) {
	bad := goodPlan(4)
	bad[0].How = "Contar."
	rt := &scriptedRuntime{replies: []string{"Here it is:\n```json\n" + string(planJSON(t, goodPlan(4))) + "\n```"}}

	out, err := plan.NewRefiner(rt, "m").Refine(context.Background(), planJSON(t, bad))
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, 1, out.Reissues)
	require.Len(t, out.Attempts, 2)
	assert.False(t, out.Attempts[0].Result.IsValid)
	assert.Equal(t, "req-1", out.Attempts[1].RequestID)
	require.Len(t, rt.prompts, 1)
	assert.True(t, strings.HasSuffix(rt.prompts[0], plan.ReissueDirective))
	assert.Contains(t, rt.prompts[0], "Action 1")
}

func TestRefineBudgetExhaustedReturnsUnverified(t *testing.T) {
	bad := goodPlan(2)
	rt := &scriptedRuntime{replies: []string{string(planJSON(t, bad))}}
	out, err := plan.NewRefiner(rt, "m").Refine(context.Background(), planJSON(t, bad))
	require.NoError(t, err)
	assert.False(t, out.Verified)
	assert.Equal(t, plan.DefaultMaxReissues, out.Reissues)
	assert.Len(t, out.Actions, 2)
	assert.False(t, out.Result.IsValid)
}

func TestRefineBudgetIsCapped(t *testing.T) {
	rt := &scriptedRuntime{replies: []string{`[{"what": "x"}]`}}
	r := plan.NewRefiner(rt, "m")
	r.MaxReissues = 10
	out, err := r.Refine(context.Background(), []byte(`[{"what": "x"}]`))
	require.NoError(t, err)
	assert.Equal(t, plan.HardMaxReissues, rt.calls)
	assert.Equal(t, plan.HardMaxReissues, out.Reissues)

	rt = &scriptedRuntime{replies: []string{"nope"}}
	r = plan.NewRefiner(rt, "m")
	r.MaxReissues = 0
	_, err = r.Refine(context.Background(), []byte("not json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, plan.ErrShape))
	assert.Equal(t, 0, rt.calls)
}

func TestRefineUnreadablePlanIsReissued(t *testing.T) {
	rt := &scriptedRuntime{replies: []string{string(planJSON(t, goodPlan(4)))}}
	out, err := plan.NewRefiner(rt, "m").Refine(context.Background(), []byte("I could not build a plan"))
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.NotEmpty(t, out.Attempts[0].ShapeErr)
	assert.Contains(t, rt.prompts[0], "could not be read")
}

func TestRefinePropagatesRuntimeErrors(t *testing.T) {
	rt := &scriptedRuntime{err: &llm.ServerError{APIError: &llm.APIError{StatusCode: 502, Message: "bad gateway"}}}
	_, err := plan.NewRefiner(rt, "m").Refine(context.Background(), planJSON(t, goodPlan(1)))
	require.Error(t, err)
	var se *llm.ServerError
	assert.True(t, errors.As(err, &se))
}
