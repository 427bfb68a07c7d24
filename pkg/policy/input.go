package policy

import (
	"fmt"

	"github.com/openfroyo/manifold/pkg/atoms"
	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/openfroyo/manifold/pkg/atoms/directory"
	"github.com/openfroyo/manifold/pkg/atoms/file"
	"github.com/openfroyo/manifold/pkg/atoms/git"
	"github.com/openfroyo/manifold/pkg/atoms/http"
	"github.com/openfroyo/manifold/pkg/steps"
)

// Input is the document policies see as "input".
type Input struct {
	// Mode is "apply" or "plan".
	Mode string `json:"mode"`

	// Context is the run context (os, user, env, variables).
	Context map[string]any `json:"context"`

	// Actions are the resolved actions in execution order.
	Actions []ActionInput `json:"actions"`
}

// ActionInput is one resolved action.
type ActionInput struct {
	Manifest string      `json:"manifest"`
	Index    int         `json:"index"`
	Action   string      `json:"action"`
	Summary  string      `json:"summary"`
	Atoms    []AtomInput `json:"atoms"`
}

// AtomInput describes one planned atom. Only the fields relevant to the
// atom's type are set.
type AtomInput struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Path        string   `json:"path,omitempty"`
	Source      string   `json:"source,omitempty"`
	Command     string   `json:"command,omitempty"`
	Args        []string `json:"args,omitempty"`
	Privileged  bool     `json:"privileged,omitempty"`
	URL         string   `json:"url,omitempty"`
}

// NewActionInput flattens the steps of a resolved action into policy input.
func NewActionInput(manifest string, index int, action, summary string, planned []steps.Step) ActionInput {
	in := ActionInput{
		Manifest: manifest,
		Index:    index,
		Action:   action,
		Summary:  summary,
		Atoms:    []AtomInput{},
	}
	for _, step := range planned {
		for _, atom := range step.Atoms {
			in.Atoms = append(in.Atoms, DescribeAtom(atom))
		}
	}
	return in
}

// DescribeAtom converts an atom into its policy representation.
func DescribeAtom(a atoms.Atom) AtomInput {
	in := AtomInput{Description: a.String()}
	switch v := a.(type) {
	case *command.Exec:
		in.Type = "command.exec"
		in.Command = v.Command
		in.Args = v.Args
		in.Privileged = v.Privileged
		in.Path = v.Dir
	case *directory.Create:
		in.Type = "directory.create"
		in.Path = v.Path
	case *directory.Remove:
		in.Type = "directory.remove"
		in.Path = v.Path
	case *file.Create:
		in.Type = "file.create"
		in.Path = v.Path
	case *file.Remove:
		in.Type = "file.remove"
		in.Path = v.Path
	case *file.Link:
		in.Type = "file.link"
		in.Path = v.Target
		in.Source = v.Source
	case *file.Copy:
		in.Type = "file.copy"
		in.Path = v.Target
		in.Source = v.Source
	case *file.SetContents:
		in.Type = "file.set_contents"
		in.Path = v.Path
	case *file.Chmod:
		in.Type = "file.chmod"
		in.Path = v.Path
	case *git.Clone:
		in.Type = "git.clone"
		in.Path = v.Directory
		in.URL = v.Repository
	case *http.Download:
		in.Type = "http.download"
		in.Path = v.Path
		in.URL = v.URL
	default:
		in.Type = fmt.Sprintf("%T", a)
	}
	return in
}
