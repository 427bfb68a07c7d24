// Package atoms defines the smallest executable units of a provisioning run.
//
// An atom owns the configuration needed to inspect and perform exactly one
// system mutation. Plan inspects the system and reports whether Execute needs
// to run; it never changes system state and can be called any number of times.
// Execute performs the mutation and is only called after Plan reported
// ShouldRun.
//
// Concrete atoms live in the sub-packages git, command, file, directory and
// http.
package atoms

import (
	"context"
	"fmt"
)

// Atom is a single planned system mutation.
type Atom interface {
	fmt.Stringer

	// Plan reports whether the atom needs to run. It must not mutate state.
	Plan() (Outcome, error)

	// Execute performs the mutation.
	Execute(ctx context.Context) error
}

// SideEffectKind classifies a declared side effect.
type SideEffectKind string

// Side effect kinds.
const (
	SideEffectExec    SideEffectKind = "exec"
	SideEffectWrite   SideEffectKind = "write"
	SideEffectDelete  SideEffectKind = "delete"
	SideEffectNetwork SideEffectKind = "network"
)

// SideEffect describes what executing an atom would do. It is descriptive
// only and used for dry-run output and policy input.
type SideEffect struct {
	Kind        SideEffectKind `json:"kind"`
	Description string         `json:"description"`
}

func (s SideEffect) String() string {
	return fmt.Sprintf("%s: %s", s.Kind, s.Description)
}

// Outcome is the result of planning an atom.
type Outcome struct {
	ShouldRun   bool         `json:"should_run"`
	SideEffects []SideEffect `json:"side_effects,omitempty"`
}

// Skip is the outcome of an atom whose desired state is already present.
func Skip() Outcome {
	return Outcome{}
}

// Run returns an outcome requesting execution with the given side effects.
func Run(effects ...SideEffect) Outcome {
	return Outcome{ShouldRun: true, SideEffects: effects}
}
