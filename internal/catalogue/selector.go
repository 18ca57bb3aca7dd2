package catalogue

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

// Selector is a compiled CEL expression over a check definition. The
// expression sees the variables id, title, level and modules.
type Selector struct {
	expression string
	program    cel.Program
}

// NewSelector compiles expression. The expression must evaluate to bool.
func NewSelector(expression string) (*Selector, error) {
	selectorField := field.NewPath("selector")

	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("title", cel.StringType),
		cel.Variable("level", cel.StringType),
		cel.Variable("modules", cel.ListType(cel.StringType)),
	)
	if err != nil {
		return nil, field.InternalError(selectorField, fmt.Errorf("error creating CEL environment: %w", err))
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, field.Invalid(selectorField, expression, fmt.Sprintf("compilation failed: %v", issues.Err()))
	}
	if ast.OutputType() != types.BoolType {
		return nil, field.Invalid(selectorField, expression, "must evaluate to bool")
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, field.Invalid(selectorField, expression, fmt.Sprintf("program construction failed: %v", err))
	}
	return &Selector{expression: expression, program: program}, nil
}

func (s *Selector) String() string {
	return s.expression
}

// Matches evaluates the selector against a definition.
func (s *Selector) Matches(def Definition) (bool, error) {
	modules := def.Modules
	if modules == nil {
		modules = []string{}
	}
	out, _, err := s.program.Eval(map[string]any{
		"id":      def.RecommendationID,
		"title":   def.Title,
		"level":   def.Level,
		"modules": modules,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate selector on check %s: %w", def.RecommendationID, err)
	}
	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("selector returned %s instead of bool", out.Type().TypeName())
	}
	return matched, nil
}
