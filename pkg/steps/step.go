// Package steps executes the ordered atoms that realize one resolved action.
package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// Phase identifies the atom lifecycle call that failed.
type Phase string

// Atom lifecycle phases.
const (
	PhasePlan    Phase = "plan"
	PhaseExecute Phase = "execute"
)

// Step is an ordered sequence of atoms. Order is execution order.
type Step struct {
	Atoms []atoms.Atom
}

// New creates a step from the given atoms.
func New(list ...atoms.Atom) Step {
	return Step{Atoms: list}
}

func (s Step) String() string {
	names := make([]string, len(s.Atoms))
	for i, a := range s.Atoms {
		names[i] = a.String()
	}
	return strings.Join(names, ", ")
}

// AtomResult records what happened to a single atom.
type AtomResult struct {
	Index    int
	Atom     string
	Outcome  atoms.Outcome
	Executed bool
	Duration time.Duration
	Err      error
}

// Report is the per-atom record of a step execution or dry run.
type Report struct {
	Atoms []AtomResult
}

// Executed returns the number of atoms that were executed successfully.
func (r Report) Executed() int {
	n := 0
	for _, a := range r.Atoms {
		if a.Executed && a.Err == nil {
			n++
		}
	}
	return n
}

// Skipped returns the number of atoms whose plan reported nothing to do.
func (r Report) Skipped() int {
	n := 0
	for _, a := range r.Atoms {
		if a.Err == nil && !a.Outcome.ShouldRun {
			n++
		}
	}
	return n
}

// AtomError reports the atom that stopped a step.
type AtomError struct {
	Index int
	Atom  string
	Phase Phase
	Err   error
}

func (e *AtomError) Error() string {
	return fmt.Sprintf("atom %d (%s) failed to %s: %v", e.Index, e.Atom, e.Phase, e.Err)
}

func (e *AtomError) Unwrap() error {
	return e.Err
}

// Execute runs the atoms of the step in order. Each atom is planned and
// executed when its plan reports ShouldRun. The first failure stops the step;
// no later atom is planned or executed.
func (s Step) Execute(ctx context.Context) (Report, error) {
	report := Report{Atoms: make([]AtomResult, 0, len(s.Atoms))}

	for i, a := range s.Atoms {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := AtomResult{Index: i, Atom: a.String()}

		outcome, err := a.Plan()
		if err != nil {
			result.Err = err
			report.Atoms = append(report.Atoms, result)
			return report, &AtomError{Index: i, Atom: result.Atom, Phase: PhasePlan, Err: err}
		}
		result.Outcome = outcome

		if outcome.ShouldRun {
			start := time.Now()
			err := a.Execute(ctx)
			result.Duration = time.Since(start)
			result.Executed = true
			if err != nil {
				result.Err = err
				report.Atoms = append(report.Atoms, result)
				return report, &AtomError{Index: i, Atom: result.Atom, Phase: PhaseExecute, Err: err}
			}
		}

		report.Atoms = append(report.Atoms, result)
	}

	return report, nil
}

// Plan plans every atom without executing anything.
func (s Step) Plan() (Report, error) {
	report := Report{Atoms: make([]AtomResult, 0, len(s.Atoms))}

	for i, a := range s.Atoms {
		result := AtomResult{Index: i, Atom: a.String()}

		outcome, err := a.Plan()
		if err != nil {
			result.Err = err
			report.Atoms = append(report.Atoms, result)
			return report, &AtomError{Index: i, Atom: result.Atom, Phase: PhasePlan, Err: err}
		}
		result.Outcome = outcome
		report.Atoms = append(report.Atoms, result)
	}

	return report, nil
}

// ExecuteAll executes steps in order and stops at the first failing step.
func ExecuteAll(ctx context.Context, list []Step) ([]Report, error) {
	reports := make([]Report, 0, len(list))
	for i, s := range list {
		report, err := s.Execute(ctx)
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return reports, nil
}

// PlanAll plans steps in order and stops at the first step that fails to plan.
func PlanAll(list []Step) ([]Report, error) {
	reports := make([]Report, 0, len(list))
	for i, s := range list {
		report, err := s.Plan()
		reports = append(reports, report)
		if err != nil {
			return reports, fmt.Errorf("step %d: %w", i, err)
		}
	}
	return reports, nil
}
