package manifests

import (
	"fmt"

	"github.com/openfroyo/manifold/pkg/actions"
	"github.com/openfroyo/manifold/pkg/conditions"
)

// Manifest is a named, ordered list of actions.
type Manifest struct {
	Name    string            `yaml:"name,omitempty" json:"name,omitempty"`
	Depends []string          `yaml:"depends,omitempty" json:"depends,omitempty"`
	Actions []actions.Actions `yaml:"actions" json:"-"`

	// Root is the directory containing the manifest file.
	Root string `yaml:"-" json:"root"`

	// Source is the manifest file path.
	Source string `yaml:"-" json:"source"`
}

// Origin returns the planning origin of the manifest's actions.
func (m *Manifest) Origin(evaluator conditions.Evaluator) actions.Origin {
	return actions.Origin{
		Name:      m.Name,
		Root:      m.Root,
		Evaluator: evaluator,
	}
}

func (m *Manifest) String() string {
	return fmt.Sprintf("%s (%d actions)", m.Name, len(m.Actions))
}

// LoadError reports a manifest that could not be read or decoded.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// DependencyError reports an unknown dependency or a dependency cycle.
type DependencyError struct {
	Manifest string
	Message  string
}

func (e *DependencyError) Error() string {
	if e.Manifest == "" {
		return e.Message
	}
	return fmt.Sprintf("manifest %s: %s", e.Manifest, e.Message)
}
