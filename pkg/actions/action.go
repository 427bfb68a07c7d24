package actions

import (
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/manifold/pkg/conditions"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// FilesDir is the directory next to a manifest that holds files referenced by
// copy and link actions.
const FilesDir = "files"

// Payload is implemented by every action kind.
type Payload interface {
	Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error)
}

// Summarizer is implemented by payloads that describe themselves.
type Summarizer interface {
	Summarize() string
}

// Action is the capability shared by all declared actions.
type Action interface {
	Summarizer
	Payload
}

// Origin describes the manifest an action was declared in.
type Origin struct {
	// Name is the manifest name.
	Name string

	// Root is the directory containing the manifest.
	Root string

	// Evaluator evaluates guard conditions. The default Starlark evaluator is
	// used when nil.
	Evaluator conditions.Evaluator
}

var defaultEvaluator = conditions.NewStarlarkEvaluator(0, 0)

func (o Origin) evaluator() conditions.Evaluator {
	if o.Evaluator != nil {
		return o.Evaluator
	}
	return defaultEvaluator
}

// FilePath resolves a path declared relative to the manifest files directory.
func (o Origin) FilePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.Root, FilesDir, path)
}

const unsummarized = "not found action summarize"

func summarize(payload any) string {
	if s, ok := payload.(Summarizer); ok {
		return s.Summarize()
	}
	log.Warn().Str("payload", typeName(payload)).Msg("Action does not define a summary")
	return unsummarized
}

// ActionResult is the terminal record of a successful action.
type ActionResult struct {
	Message string `json:"message"`
}

// ActionError is the terminal record of a failed action. The message is the
// rendered cause; the cause itself stays available through Unwrap.
type ActionError struct {
	Message string `json:"message"`

	cause error
}

// NewActionError creates an ActionError from any failure.
func NewActionError(err error) *ActionError {
	if err == nil {
		return nil
	}
	return &ActionError{Message: err.Error(), cause: err}
}

func (e *ActionError) Error() string {
	return e.Message
}

func (e *ActionError) Unwrap() error {
	return e.cause
}

// osName returns the operating system the plan targets, taken from the run
// context and falling back to the running platform.
func osName(scope contexts.Contexts) string {
	if v, ok := scope.Lookup("os.name"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return runtime.GOOS
}

func osDistribution(scope contexts.Contexts) string {
	if v, ok := scope.Lookup("os.distribution"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
