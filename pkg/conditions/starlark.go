package conditions

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/manifold/pkg/contexts"
)

const (
	// DefaultTimeout bounds the wall-clock time of a single expression.
	DefaultTimeout = 2 * time.Second

	// DefaultMaxSteps bounds the number of Starlark execution steps.
	DefaultMaxSteps = 100000
)

// StarlarkEvaluator evaluates guard expressions as Starlark expressions.
//
// Context namespaces are exposed as structs, so `os.family == "unix"` works, and
// top-level scalars as plain names. Starlark has no while loops and recursion
// stays disabled; comprehensions are bounded by the step budget and the timeout.
type StarlarkEvaluator struct {
	timeout  time.Duration
	maxSteps uint64
}

// NewStarlarkEvaluator creates a new Starlark evaluator. Zero values select the
// defaults.
func NewStarlarkEvaluator(timeout time.Duration, maxSteps uint64) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	return &StarlarkEvaluator{
		timeout:  timeout,
		maxSteps: maxSteps,
	}
}

// Evaluate evaluates expression against scope and requires a boolean result.
func (se *StarlarkEvaluator) Evaluate(expression string, scope contexts.Contexts) (result bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = false
			err = &EvaluationError{Expression: expression, Err: fmt.Errorf("evaluator panic: %v", r)}
		}
	}()

	env, err := predeclared(scope)
	if err != nil {
		return false, &EvaluationError{Expression: expression, Err: err}
	}

	thread := &starlark.Thread{
		Name:  "where",
		Print: func(_ *starlark.Thread, _ string) {},
	}
	thread.SetMaxExecutionSteps(se.maxSteps)

	timer := time.AfterFunc(se.timeout, func() {
		thread.Cancel(fmt.Sprintf("timeout after %v", se.timeout))
	})
	defer timer.Stop()

	value, err := starlark.Eval(thread, "where", expression, env)
	if err != nil {
		return false, &EvaluationError{Expression: expression, Err: err}
	}

	b, ok := value.(starlark.Bool)
	if !ok {
		return false, &EvaluationError{
			Expression: expression,
			Err:        fmt.Errorf("expression evaluated to %s, want bool", value.Type()),
		}
	}

	return bool(b), nil
}

// predeclared converts the run context into the Starlark global environment.
func predeclared(scope contexts.Contexts) (starlark.StringDict, error) {
	env := starlark.StringDict{}
	values := scope.ToMap()
	for _, name := range scope.Names() {
		v, err := toStarlarkValue(values[name])
		if err != nil {
			return nil, fmt.Errorf("failed to convert %s: %w", name, err)
		}
		env[name] = v
	}
	return env, nil
}

// toStarlarkValue converts a Go value to a Starlark value. Maps become structs
// so namespaces support attribute access.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fields := make(starlark.StringDict, len(val))
		for _, k := range keys {
			starlarkVal, err := toStarlarkValue(val[k])
			if err != nil {
				return nil, err
			}
			fields[k] = starlarkVal
		}
		return starlarkstruct.FromStringDict(starlarkstruct.Default, fields), nil
	default:
		return nil, errors.New("unsupported type: " + fmt.Sprintf("%T", v))
	}
}
