package actions

import (
	"fmt"
	"os"
	"strings"

	"github.com/openfroyo/manifold/pkg/atoms/command"
	"github.com/openfroyo/manifold/pkg/contexts"
	"github.com/openfroyo/manifold/pkg/steps"
)

// RunCommand runs a program. Dir defaults to the working directory of the
// process that loaded the manifest.
type RunCommand struct {
	Command    string   `yaml:"command" validate:"required"`
	Args       []string `yaml:"args,omitempty"`
	Dir        string   `yaml:"dir,omitempty"`
	Privileged bool     `yaml:"privileged,omitempty"`
}

func (r *RunCommand) applyDefaults() error {
	if r.Dir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return err
		}
		r.Dir = dir
	}
	return nil
}

// Summarize implements Summarizer.
func (r RunCommand) Summarize() string {
	line := strings.TrimSpace(strings.Join(append([]string{r.Command}, r.Args...), " "))
	if r.Privileged {
		return fmt.Sprintf("Run privileged command %s", line)
	}
	return fmt.Sprintf("Run command %s", line)
}

// Plan implements Payload.
func (r RunCommand) Plan(origin Origin, scope contexts.Contexts) ([]steps.Step, error) {
	return []steps.Step{
		steps.New(&command.Exec{
			Command:    r.Command,
			Args:       append([]string(nil), r.Args...),
			Dir:        r.Dir,
			Privileged: r.Privileged,
		}),
	}, nil
}
