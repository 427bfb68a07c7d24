package actions

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// Variant is an alternative payload selected by its own condition. A variant
// without a condition never matches.
type Variant[T Payload] struct {
	Action    T
	Condition string
}

// ConditionalVariantAction decorates a payload with a guard condition and
// ordered variants.
type ConditionalVariantAction[T Payload] struct {
	Action    T
	Condition string
	Variants  []Variant[T]
}

var _ Action = (*ConditionalVariantAction[RunCommand])(nil)

// ConditionError reports a top-level condition that could not be evaluated.
type ConditionError struct {
	Condition string
	Err       error
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("failed to evaluate condition %q: %v", e.Condition, e.Err)
}

func (e *ConditionError) Unwrap() error {
	return e.Err
}

// Summarize describes the default payload.
func (c *ConditionalVariantAction[T]) Summarize() string {
	return summarize(c.Action)
}

// Resolve selects the payload to plan. ok is false when the top-level
// condition evaluated to false and the action contributes nothing.
func (c *ConditionalVariantAction[T]) Resolve(origin Origin, scope contexts.Contexts) (payload T, ok bool, err error) {
	evaluator := origin.evaluator()

	for i, variant := range c.Variants {
		if variant.Condition == "" {
			continue
		}

		matched, err := evaluator.Evaluate(variant.Condition, scope)
		if err != nil {
			log.Error().
				Err(err).
				Str("manifest", origin.Name).
				Str("condition", variant.Condition).
				Int("variant", i).
				Msg("Failed to evaluate variant condition")
			continue
		}
		if matched {
			return variant.Action, true, nil
		}
	}

	if c.Condition == "" {
		return c.Action, true, nil
	}

	matched, err := evaluator.Evaluate(c.Condition, scope)
	if err != nil {
		var zero T
		return zero, false, &ConditionError{Condition: c.Condition, Err: err}
	}
	if !matched {
		var zero T
		return zero, false, nil
	}

	return c.Action, true, nil
}

// Plan resolves the payload and plans it.
func (c *ConditionalVariantAction[T]) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	payload, ok, err := c.Resolve(origin, scope)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []steps.Step{}, nil
	}
	return payload.Plan(origin, scope)
}
