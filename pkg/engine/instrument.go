package engine

import (
	"context"

	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/steps"
	"github.com/openfroyo/manifold/pkg/telemetry"
)

// tracedAtom opens a span around each lifecycle call of an atom.
type tracedAtom struct {
	atoms.Atom

	ctx    context.Context
	tracer *telemetry.Tracer
}

func (t *tracedAtom) Plan() (atoms.Outcome, error) {
	_, span := t.tracer.StartAtomSpan(t.ctx, string(steps.PhasePlan), t.Atom.String())
	outcome, err := t.Atom.Plan()
	if err == nil {
		span.SetAttributes(telemetry.AttrShouldRun.Bool(outcome.ShouldRun))
	}
	telemetry.EndSpan(span, err)
	return outcome, err
}

func (t *tracedAtom) Execute(ctx context.Context) error {
	ctx, span := t.tracer.StartAtomSpan(ctx, string(steps.PhaseExecute), t.Atom.String())
	err := t.Atom.Execute(ctx)
	telemetry.EndSpan(span, err)
	return err
}

// traced returns a copy of step whose atoms report spans under ctx.
func traced(ctx context.Context, tracer *telemetry.Tracer, step steps.Step) steps.Step {
	wrapped := make([]atoms.Atom, len(step.Atoms))
	for i, a := range step.Atoms {
		wrapped[i] = &tracedAtom{Atom: a, ctx: ctx, tracer: tracer}
	}
	return steps.New(wrapped...)
}
