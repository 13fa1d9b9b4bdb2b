package plan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KaramelBytes/playbook-guard/internal/llm"
)

// DefaultMaxReissues is the re-issue budget when none is configured.
const DefaultMaxReissues = 1

// HardMaxReissues bounds any configured budget.
const HardMaxReissues = 3

const systemPrompt = "You revise 5W2H action plans (what, why, who, when, where, how, how_much). " +
	"Every action needs a specific what, at least 7 concrete steps in how and measurable targets in why and how."

// Refiner re-issues invalid plans to a model until they pass or the budget runs out.
type Refiner struct {
	Runtime     llm.Runtime
	Model       string
	MaxReissues int
	Rules       Rules
	Logger      *slog.Logger
}

// NewRefiner returns a refiner with the default budget and rules.
func NewRefiner(rt llm.Runtime, model string) *Refiner {
	return &Refiner{Runtime: rt, Model: model, MaxReissues: DefaultMaxReissues, Rules: DefaultRules()}
}

// Attempt records one validation round.
type Attempt struct {
	Round     int              `json:"round"`
	Result    ValidationResult `json:"result"`
	ShapeErr  string           `json:"shape_error,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// Outcome is the final plan. Verified is false when the budget ran out with
// the plan still invalid; Actions then hold the best effort.
type Outcome struct {
	Actions  []Action         `json:"actions"`
	Result   ValidationResult `json:"result"`
	Verified bool             `json:"verified"`
	Reissues int              `json:"reissues"`
	Attempts []Attempt        `json:"attempts"`
}

func (r *Refiner) budget() int {
	return max(0, min(r.MaxReissues, HardMaxReissues))
}

func (r *Refiner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Refine validates raw and re-issues it while invalid and budget remains.
func (r *Refiner) Refine(ctx context.Context, raw []byte) (*Outcome, error) {
	rules := r.Rules
	if rules == (Rules{}) {
		rules = DefaultRules()
	}
	out := &Outcome{}
	var lastReqID string
	for round := 0; ; round++ {
		actions, err := Normalize(raw)
		att := Attempt{Round: round, RequestID: lastReqID}
		var prompt string
		if err != nil {
			if !errors.Is(err, ErrShape) {
				return nil, err
			}
			att.ShapeErr = err.Error()
			prompt = ShapePrompt(err)
		} else {
			res := Validate(actions, rules)
			att.Result = res
			out.Actions, out.Result = actions, res
			if res.IsValid {
				out.Attempts = append(out.Attempts, att)
				out.Verified = true
				return out, nil
			}
			prompt = ReissuePrompt(res, rules)
		}
		out.Attempts = append(out.Attempts, att)

		if out.Reissues >= r.budget() {
			if out.Actions == nil {
				return nil, fmt.Errorf("plan unreadable after %d reissues: %w", out.Reissues, err)
			}
			r.logger().Warn("plan still invalid after reissue budget", "reissues", out.Reissues, "errors", len(out.Result.Errors))
			return out, nil
		}
		if r.Runtime == nil {
			return nil, errors.New("no LLM runtime configured for reissue")
		}
		r.logger().Debug("reissuing plan", "round", round+1, "errors", len(att.Result.Errors), "shape_error", att.ShapeErr)
		resp, genErr := r.Runtime.Generate(ctx, llm.GenerateRequest{
			Model: r.Model,
			Messages: []llm.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: "Current plan:\n" + string(raw)},
				{Role: "user", Content: prompt},
			},
			Temperature: 0.2,
		})
		if genErr != nil {
			return nil, fmt.Errorf("reissue plan: %w", genErr)
		}
		out.Reissues++
		lastReqID = resp.RequestID
		raw = []byte(resp.Text())
	}
}
