package playbook

import (
	"fmt"
	"sync"

	"github.com/KaramelBytes/playbook-guard/internal/schema"
	"github.com/google/cel-go/cel"
)

// Precondition gates a section. Every non-zero clause must hold.
type Precondition struct {
	// RequiredType needs at least one column of that inferred type anywhere in the schema.
	RequiredType schema.ColumnType `yaml:"required_type" json:"required_type,omitempty"`
	// Suggest is the canonical column recommended when RequiredType is missing.
	Suggest string `yaml:"suggest" json:"suggest,omitempty"`
	// Columns are canonical columns that must be present with an accepted type.
	Columns []Requirement `yaml:"columns" json:"columns,omitempty"`
	MinRows int           `yaml:"min_rows" json:"min_rows,omitempty"`
	// Expr is a CEL boolean over columns (canonical -> type), row_count and types (type -> count).
	Expr string `yaml:"expr" json:"expr,omitempty"`

	program cel.Program
}

// Facts are the values a CEL precondition can see.
type Facts struct {
	Columns  map[string]string
	RowCount int
	Types    map[string]int
}

// NewFacts derives CEL facts from a schema. The first column mapped to a
// canonical name wins.
func NewFacts(s schema.EnrichedSchema, rowCount int) Facts {
	f := Facts{Columns: map[string]string{}, RowCount: rowCount, Types: map[string]int{}}
	for t, n := range s.TypeCounts() {
		f.Types[string(t)] = n
	}
	for _, c := range s.Columns {
		if c.CanonicalName == "" {
			continue
		}
		if _, ok := f.Columns[c.CanonicalName]; !ok {
			f.Columns[c.CanonicalName] = string(c.InferredType)
		}
	}
	return f
}

func (f Facts) activation() map[string]any {
	types := make(map[string]int64, len(f.Types))
	for k, v := range f.Types {
		types[k] = int64(v)
	}
	return map[string]any{
		"columns":   f.Columns,
		"row_count": int64(f.RowCount),
		"types":     types,
	}
}

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func celEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("columns", cel.MapType(cel.StringType, cel.StringType)),
			cel.Variable("row_count", cel.IntType),
			cel.Variable("types", cel.MapType(cel.StringType, cel.IntType)),
		)
	})
	return env, envErr
}

func (p *Precondition) compile() error {
	if p.Expr == "" {
		return nil
	}
	e, err := celEnv()
	if err != nil {
		return fmt.Errorf("create CEL env: %w", err)
	}
	ast, issues := e.Compile(p.Expr)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compile expr %q: %w", p.Expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return fmt.Errorf("expr %q must return bool, got %s", p.Expr, ast.OutputType())
	}
	prg, err := e.Program(ast)
	if err != nil {
		return fmt.Errorf("program expr %q: %w", p.Expr, err)
	}
	p.program = prg
	return nil
}

// EvalExpr evaluates the CEL clause. An empty expression holds.
func (p Precondition) EvalExpr(f Facts) (bool, error) {
	if p.Expr == "" {
		return true, nil
	}
	if p.program == nil {
		return false, fmt.Errorf("expr %q was not compiled", p.Expr)
	}
	out, _, err := p.program.Eval(f.activation())
	if err != nil {
		return false, fmt.Errorf("eval expr %q: %w", p.Expr, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expr %q did not return bool", p.Expr)
	}
	return ok, nil
}
