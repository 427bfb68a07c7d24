package engine

import (
	"time"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/steps"
	"github.com/openfroyo/manifold/pkg/stores"
)

// Mode selects whether a run executes atoms.
type Mode string

const (
	// ModeApply plans and executes every atom.
	ModeApply Mode = "apply"

	// ModePlan plans every atom and executes nothing.
	ModePlan Mode = "plan"
)

// Options controls a single run.
type Options struct {
	// Select limits the run to the named manifests and their dependencies.
	// Empty runs every manifest.
	Select []string

	// Contexts is the run context handed to conditions and actions.
	Contexts contexts.Contexts
}

// ActionReport is what happened to one declared action.
type ActionReport struct {
	Manifest string `json:"manifest"`
	Index    int    `json:"index"`
	Action   string `json:"action"`
	Summary  string `json:"summary"`

	// Steps are the resolved steps. Empty when the action's condition was false.
	Steps []steps.Step `json:"-"`

	// Reports hold the per-atom outcome of every step that ran or was planned.
	Reports []steps.Report `json:"-"`

	Result *actions.ActionResult `json:"result,omitempty"`
	Error  *actions.ActionError  `json:"error,omitempty"`
}

// Executed returns the number of atoms this action executed.
func (a *ActionReport) Executed() int {
	n := 0
	for _, r := range a.Reports {
		n += r.Executed()
	}
	return n
}

// Skipped returns the number of atoms already in their desired state.
func (a *ActionReport) Skipped() int {
	n := 0
	for _, r := range a.Reports {
		n += r.Skipped()
	}
	return n
}

// RunReport is the outcome of one apply or plan.
type RunReport struct {
	RunID     string               `json:"run_id"`
	Mode      Mode                 `json:"mode"`
	Status    stores.RunStatus     `json:"status"`
	Manifests []string             `json:"manifests"`
	Actions   []*ActionReport      `json:"actions"`
	Policy    *policy.Result       `json:"policy,omitempty"`
	StartedAt time.Time            `json:"started_at"`
	Duration  time.Duration        `json:"duration"`
	Error     *actions.ActionError `json:"error,omitempty"`
}

// Executed returns the number of atoms executed by the run.
func (r *RunReport) Executed() int {
	n := 0
	for _, a := range r.Actions {
		n += a.Executed()
	}
	return n
}

// Skipped returns the number of atoms that needed no change.
func (r *RunReport) Skipped() int {
	n := 0
	for _, a := range r.Actions {
		n += a.Skipped()
	}
	return n
}

// Failed returns the report of the action that stopped the run, if any.
func (r *RunReport) Failed() *ActionReport {
	for _, a := range r.Actions {
		if a.Error != nil {
			return a
		}
	}
	return nil
}
