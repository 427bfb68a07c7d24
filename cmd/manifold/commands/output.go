package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/engine"
	"github.com/openfroyo/manifold/pkg/policy"
	"github.com/openfroyo/manifold/pkg/steps"
)

type atomView struct {
	Atom        string             `json:"atom"`
	ShouldRun   bool               `json:"should_run"`
	Executed    bool               `json:"executed"`
	SideEffects []atoms.SideEffect `json:"side_effects,omitempty"`
	Duration    string             `json:"duration,omitempty"`
	Error       string             `json:"error,omitempty"`
}

type actionView struct {
	Manifest string                `json:"manifest"`
	Index    int                   `json:"index"`
	Action   string                `json:"action"`
	Summary  string                `json:"summary"`
	Atoms    []atomView            `json:"atoms"`
	Result   *actions.ActionResult `json:"result,omitempty"`
	Error    *actions.ActionError  `json:"error,omitempty"`
}

type reportView struct {
	RunID     string               `json:"run_id"`
	Mode      engine.Mode          `json:"mode"`
	Status    string               `json:"status"`
	Manifests []string             `json:"manifests"`
	Actions   []actionView         `json:"actions"`
	Policy    *policy.Result       `json:"policy,omitempty"`
	Executed  int                  `json:"executed"`
	Skipped   int                  `json:"skipped"`
	Duration  string               `json:"duration"`
	Error     *actions.ActionError `json:"error,omitempty"`
}

func newReportView(report *engine.RunReport) reportView {
	view := reportView{
		RunID:     report.RunID,
		Mode:      report.Mode,
		Status:    string(report.Status),
		Manifests: report.Manifests,
		Actions:   make([]actionView, 0, len(report.Actions)),
		Policy:    report.Policy,
		Executed:  report.Executed(),
		Skipped:   report.Skipped(),
		Duration:  report.Duration.Round(time.Millisecond).String(),
		Error:     report.Error,
	}

	for _, ar := range report.Actions {
		av := actionView{
			Manifest: ar.Manifest,
			Index:    ar.Index,
			Action:   ar.Action,
			Summary:  ar.Summary,
			Atoms:    []atomView{},
			Result:   ar.Result,
			Error:    ar.Error,
		}
		for _, r := range ar.Reports {
			for _, res := range r.Atoms {
				av.Atoms = append(av.Atoms, newAtomView(res))
			}
		}
		view.Actions = append(view.Actions, av)
	}

	return view
}

func newAtomView(res steps.AtomResult) atomView {
	view := atomView{
		Atom:        res.Atom,
		ShouldRun:   res.Outcome.ShouldRun,
		Executed:    res.Executed,
		SideEffects: res.Outcome.SideEffects,
	}
	if res.Executed {
		view.Duration = res.Duration.Round(time.Millisecond).String()
	}
	if res.Err != nil {
		view.Error = res.Err.Error()
	}
	return view
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// atomMarker is the one-character status shown before an atom.
func atomMarker(res steps.AtomResult) string {
	switch {
	case res.Err != nil:
		return "!"
	case res.Executed:
		return "+"
	case res.Outcome.ShouldRun:
		return "~"
	default:
		return "="
	}
}

// printReport writes a run report as text or JSON.
func printReport(out io.Writer, report *engine.RunReport) error {
	if jsonOutput {
		return writeJSON(out, newReportView(report))
	}

	manifest := ""
	for _, ar := range report.Actions {
		if ar.Manifest != manifest {
			manifest = ar.Manifest
			fmt.Fprintln(out, manifest)
		}

		fmt.Fprintf(out, "  [%d] %s: %s\n", ar.Index, ar.Action, ar.Summary)
		if len(ar.Steps) == 0 && ar.Error == nil {
			fmt.Fprintln(out, "      (condition not met)")
		}
		for _, r := range ar.Reports {
			for _, res := range r.Atoms {
				fmt.Fprintf(out, "      %s %s\n", atomMarker(res), res.Atom)
				if report.Mode == engine.ModePlan {
					for _, effect := range res.Outcome.SideEffects {
						fmt.Fprintf(out, "          %s\n", effect)
					}
				}
				if res.Err != nil {
					fmt.Fprintf(out, "          error: %v\n", res.Err)
				}
			}
		}
		if ar.Error != nil && len(ar.Reports) == 0 {
			fmt.Fprintf(out, "      error: %s\n", ar.Error.Message)
		}
	}

	if report.Policy != nil {
		for _, v := range report.Policy.Violations {
			fmt.Fprintf(out, "policy: %s\n", v)
		}
	}

	fmt.Fprintf(out, "\n%s %s %s in %s: %d executed, %d skipped\n",
		report.Mode, report.RunID, report.Status,
		report.Duration.Round(time.Millisecond), report.Executed(), report.Skipped())

	return nil
}
