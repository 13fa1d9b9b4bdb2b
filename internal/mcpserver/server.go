// Package mcpserver exposes the engine and the plan validator as MCP tools
// for the chat layer.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/KaramelBytes/playbook-guard/internal/engine"
	"github.com/KaramelBytes/playbook-guard/internal/plan"
	"github.com/KaramelBytes/playbook-guard/internal/schema"
)

// Saver persists envelopes. *store.AuditStore satisfies it.
type Saver interface {
	Save(ctx context.Context, env engine.Envelope) error
}

// Server holds what the tool handlers need.
type Server struct {
	Engine  *engine.Engine
	Rules   plan.Rules
	Store   Saver
	Logger  *slog.Logger
	Version string

	newID func() string
	now   func() time.Time
}

// New returns a server with default plan rules and uuid request ids.
func New(e *engine.Engine) *Server {
	return &Server{
		Engine:  e,
		Rules:   plan.DefaultRules(),
		Logger:  slog.Default(),
		Version: "dev",
		newID:   func() string { return uuid.NewString() },
		now:     time.Now,
	}
}

// MetadataEvaluateDataset describes the evaluate_dataset tool.
var MetadataEvaluateDataset = &mcp.Tool{
	Name: "evaluate_dataset",
	Description: "Normalize and classify the columns of a tabular dataset, select the analysis playbook " +
		"it supports and return which report sections are enabled. Sections whose required columns " +
		"are missing are returned as disabled with the column that would enable them. " +
		"The response carries an audit card in JSON and markdown.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"headers", "rows"},
		"properties": map[string]any{
			"headers": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Column headers exactly as they appear in the file",
			},
			"rows": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				"description": "Data rows as strings, aligned with headers",
			},
			"telemetry": map[string]any{
				"type":        "object",
				"description": "Optional ingestion telemetry (ingest_source, file_name, decimal_locale, sheet_name, ...)",
			},
			"save": map[string]any{
				"type":        "boolean",
				"description": "Persist the response to the audit store when one is configured",
			},
		},
	},
	OutputSchema: map[string]any{"type": "object"},
}

// InputEvaluateDataset is the input for the evaluate_dataset tool.
type InputEvaluateDataset struct {
	Headers   []string               `json:"headers"`
	Rows      [][]string             `json:"rows"`
	Telemetry schema.IngestTelemetry `json:"telemetry"`
	Save      bool                   `json:"save"`
}

// OutputEvaluateDataset is the output for the evaluate_dataset tool.
type OutputEvaluateDataset struct {
	Envelope engine.Envelope `json:"envelope"`
	Saved    bool            `json:"saved"`
}

// EvaluateDataset runs the pipeline over the supplied rows.
func (s *Server) EvaluateDataset(ctx context.Context, _ *mcp.CallToolRequest, input InputEvaluateDataset) (*mcp.CallToolResult, OutputEvaluateDataset, error) {
	ds := schema.Dataset{Headers: input.Headers, Rows: input.Rows, Telemetry: input.Telemetry}
	if ds.Telemetry.IngestSource == "" {
		ds.Telemetry.IngestSource = "json"
	}
	res, err := s.Engine.Run(ctx, ds)
	if err != nil {
		return nil, OutputEvaluateDataset{}, err
	}
	env, err := engine.NewEnvelope(res, s.newID(), s.now())
	if err != nil {
		return nil, OutputEvaluateDataset{}, err
	}
	out := OutputEvaluateDataset{Envelope: env}
	if input.Save {
		if s.Store == nil {
			return nil, OutputEvaluateDataset{}, errors.New("save requested but no audit store is configured")
		}
		if err := s.Store.Save(ctx, env); err != nil {
			return nil, OutputEvaluateDataset{}, err
		}
		out.Saved = true
	}
	s.Logger.Info("evaluate_dataset", "request_id", env.RequestID, "playbook", env.PlaybookID, "fallback", env.IsFallback)
	return nil, out, nil
}

// MetadataValidateActionPlan describes the validate_action_plan tool.
var MetadataValidateActionPlan = &mcp.Tool{
	Name: "validate_action_plan",
	Description: "Validate a 5W2H action plan (what, why, who, when, where, how, how_much) produced by a model. " +
		"Checks action count, depth of the how field and quantifiable signals. When the plan is invalid " +
		"the output includes a reissue prompt to send back to the model.",
	InputSchema: map[string]any{
		"type":     "object",
		"required": []string{"plan"},
		"properties": map[string]any{
			"plan": map[string]any{
				"type":        "string",
				"description": "The plan as returned by the model: a JSON array of actions, optionally wrapped in prose or a code fence",
			},
		},
	},
	OutputSchema: map[string]any{"type": "object"},
}

// InputValidateActionPlan is the input for the validate_action_plan tool.
type InputValidateActionPlan struct {
	Plan string `json:"plan"`
}

// OutputValidateActionPlan is the output for the validate_action_plan tool.
type OutputValidateActionPlan struct {
	Result        plan.ValidationResult `json:"result"`
	ShapeError    string                `json:"shape_error,omitempty"`
	ReissuePrompt string                `json:"reissue_prompt,omitempty"`
}

// ValidateActionPlan validates without contacting any model.
func (s *Server) ValidateActionPlan(_ context.Context, _ *mcp.CallToolRequest, input InputValidateActionPlan) (*mcp.CallToolResult, OutputValidateActionPlan, error) {
	if input.Plan == "" {
		return nil, OutputValidateActionPlan{}, fmt.Errorf("plan is required")
	}
	actions, err := plan.Normalize([]byte(input.Plan))
	if err != nil {
		return nil, OutputValidateActionPlan{
			Result:        plan.ValidationResult{Errors: []string{err.Error()}},
			ShapeError:    err.Error(),
			ReissuePrompt: plan.ShapePrompt(err),
		}, nil
	}
	res := plan.Validate(actions, s.Rules)
	out := OutputValidateActionPlan{Result: res}
	if !res.IsValid {
		out.ReissuePrompt = plan.ReissuePrompt(res, s.Rules)
	}
	return nil, out, nil
}

// MCPServer registers both tools on a new MCP server.
func (s *Server) MCPServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "pbguard", Version: s.Version}, nil)
	mcp.AddTool(srv, MetadataEvaluateDataset, s.EvaluateDataset)
	mcp.AddTool(srv, MetadataValidateActionPlan, s.ValidateActionPlan)
	return srv
}

// ServeStdio serves the tools over stdin/stdout until ctx is done or the
// client disconnects.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.MCPServer().Run(ctx, &mcp.StdioTransport{})
}
