// Package conditions evaluates the boolean guard expressions attached to
// manifest actions and their variants.
package conditions

import (
	"fmt"

	"github.com/openfroyo/manifold/pkg/contexts"
)

// Evaluator evaluates a boolean expression against a run context.
//
// Implementations must return an error, never panic, when the expression is
// malformed, references unknown names or does not produce a boolean.
type Evaluator interface {
	Evaluate(expression string, scope contexts.Contexts) (bool, error)
}

// EvaluationError reports a failed guard expression.
type EvaluationError struct {
	Expression string
	Err        error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Expression, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(expression string, scope contexts.Contexts) (bool, error)

// Evaluate calls f.
func (f EvaluatorFunc) Evaluate(expression string, scope contexts.Contexts) (bool, error) {
	return f(expression, scope)
}
