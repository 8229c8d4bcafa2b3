// Package cel evaluates CEL call filters deciding which inbound calls a
// connection dispatches.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/Sentinel-Gate/ipcgate/internal/domain/proxy"
)

// Limits on filter expressions. Source limits are checked before
// compilation, runtime limits by the compiled program.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50

	maxCostBudget      = 100_000
	interruptCheckFreq = 100 // comprehension iterations between ctx checks
	evalTimeout        = 5 * time.Second
)

// Evaluator compiles and evaluates call filter expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an evaluator over the call environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewCallEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create call environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile checks expr against the source limits, type-checks it and returns
// a cost-limited program. The expression must yield a boolean.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	if err := checkSource(expr); err != nil {
		return nil, err
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("invalid CEL expression: result is %s, want bool", out)
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// ValidateExpression reports whether expr would compile.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.Compile(expr)
	return err
}

func checkSource(expr string) error {
	switch {
	case expr == "":
		return errors.New("expression is empty")
	case len(expr) > maxExpressionLength:
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if d := nestingDepth(expr); d > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", d, maxNestingDepth)
	}
	return nil
}

// nestingDepth is the deepest bracket nesting in expr, counting all of
// (), [] and {}.
func nestingDepth(expr string) int {
	depth, deepest := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	return deepest
}

// Evaluate runs prg against call, bounded by evalTimeout and the cost limit.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, call proxy.CallContext) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, BuildActivation(call))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression did not return a boolean, got %T", out.Value())
	}
	return ok, nil
}
