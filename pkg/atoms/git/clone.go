// Package git provides atoms backed by the git command line client.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// Clone clones a repository into Directory unless Directory already exists.
type Clone struct {
	Repository string
	Directory  string

	// Reference is a branch or tag. Empty selects the remote default branch.
	Reference string

	// GitPath is the git binary, "git" when empty.
	GitPath string
}

var _ atoms.Atom = (*Clone)(nil)

// CloneError reports a failed clone.
type CloneError struct {
	Repository string
	Reason     string
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("failed to clone %s: %s", e.Repository, e.Reason)
}

func (c *Clone) String() string {
	ref := c.Reference
	if ref == "" {
		ref = "HEAD"
	}
	return fmt.Sprintf("GitClone %s#%s to %s", c.Repository, ref, c.Directory)
}

// Plan reports ShouldRun when the target directory does not exist.
func (c *Clone) Plan() (atoms.Outcome, error) {
	_, err := os.Stat(c.Directory)
	if err == nil {
		return atoms.Skip(), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return atoms.Outcome{}, fmt.Errorf("failed to stat %s: %w", c.Directory, err)
	}
	return atoms.Outcome{ShouldRun: true}, nil
}

// Execute performs a full clone of the repository at the configured reference.
// A directory that existed before the clone is left untouched on failure.
func (c *Clone) Execute(ctx context.Context) error {
	_, statErr := os.Stat(c.Directory)
	existed := statErr == nil

	args := []string{"clone", "--single-branch"}
	if c.Reference != "" {
		args = append(args, "--branch", c.Reference)
	}
	args = append(args, c.Repository, c.Directory)

	cmd := exec.CommandContext(ctx, c.gitPath(), args...)
	cmd.Env = safeEnv()

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Leave no partial checkout behind so the next plan retries.
		if !existed {
			_ = os.RemoveAll(c.Directory)
		}

		if ctx.Err() != nil {
			return &CloneError{Repository: c.Repository, Reason: ctx.Err().Error()}
		}
		reason := strings.TrimSpace(stderr.String())
		if reason == "" {
			reason = err.Error()
		}
		return &CloneError{Repository: c.Repository, Reason: reason}
	}

	return nil
}

func (c *Clone) gitPath() string {
	if c.GitPath != "" {
		return c.GitPath
	}
	return "git"
}

// safeEnv returns a minimal environment that never prompts for credentials.
func safeEnv() []string {
	env := []string{
		"GIT_TERMINAL_PROMPT=0",
		"GIT_ASKPASS=",
		"LC_ALL=C",
	}

	for _, key := range []string{"HOME", "PATH", "USER", "LANG", "SSH_AUTH_SOCK"} {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}

	return env
}
