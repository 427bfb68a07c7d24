// Package command provides the atom that runs external programs.
package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/manifold/pkg/atoms"
)

// DefaultShell runs commands declared without arguments.
const DefaultShell = "/bin/sh"

// Exec runs a program.
//
// A command without arguments is passed to the shell so that manifests can use
// pipes and redirection. With arguments the program is executed directly.
type Exec struct {
	Command string
	Args    []string
	Dir     string
	Env     map[string]string

	// Privileged runs the command through Escalator unless the process is
	// already running as root.
	Privileged bool
	Escalator  string

	// Unless is a check command. When it exits zero the atom does not run.
	Unless []string

	Shell string

	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
}

var _ atoms.Atom = (*Exec)(nil)

// ExitError reports a command that exited with a non-zero status.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with status %d: %s", e.Command, e.ExitCode, e.Stderr)
}

func (e *Exec) String() string {
	return fmt.Sprintf("CommandExec %s", e.commandLine())
}

// Plan always requests execution unless the Unless check succeeds.
func (e *Exec) Plan() (atoms.Outcome, error) {
	if len(e.Unless) > 0 {
		check := exec.Command(e.Unless[0], e.Unless[1:]...)
		check.Dir = e.Dir
		if err := check.Run(); err == nil {
			return atoms.Skip(), nil
		} else if _, ok := err.(*exec.ExitError); !ok {
			return atoms.Outcome{}, fmt.Errorf("failed to run check %q: %w", strings.Join(e.Unless, " "), err)
		}
	}

	effects := []atoms.SideEffect{{Kind: atoms.SideEffectExec, Description: e.commandLine()}}
	return atoms.Run(effects...), nil
}

// Execute runs the command and fails on a non-zero exit status.
func (e *Exec) Execute(ctx context.Context) error {
	if e.Command == "" {
		return fmt.Errorf("command is required")
	}

	cmd := e.build(ctx)

	if e.Dir != "" {
		cmd.Dir = e.Dir
	}

	if len(e.Env) > 0 {
		keys := make([]string, 0, len(e.Env))
		for k := range e.Env {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		env := os.Environ()
		for _, k := range keys {
			env = append(env, fmt.Sprintf("%s=%s", k, e.Env[k]))
		}
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.duration = time.Since(start)
	e.stdout = stdout.String()
	e.stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			e.exitCode = exitErr.ExitCode()
			return &ExitError{
				Command:  e.commandLine(),
				ExitCode: e.exitCode,
				Stderr:   strings.TrimSpace(e.stderr),
			}
		}
		return fmt.Errorf("failed to execute command: %w", err)
	}

	e.exitCode = 0
	return nil
}

// Stdout returns the captured standard output of the last execution.
func (e *Exec) Stdout() string { return e.stdout }

// Stderr returns the captured standard error of the last execution.
func (e *Exec) Stderr() string { return e.stderr }

// ExitCode returns the exit status of the last execution.
func (e *Exec) ExitCode() int { return e.exitCode }

// Duration returns how long the last execution took.
func (e *Exec) Duration() time.Duration { return e.duration }

func (e *Exec) build(ctx context.Context) *exec.Cmd {
	shell := e.Shell
	if shell == "" {
		shell = DefaultShell
	}

	var argv []string
	if len(e.Args) > 0 {
		argv = append([]string{e.Command}, e.Args...)
	} else {
		argv = []string{shell, "-c", e.Command}
	}

	if e.Privileged && os.Geteuid() != 0 {
		escalator := e.Escalator
		if escalator == "" {
			escalator = "sudo"
		}
		argv = append([]string{escalator}, argv...)
	}

	return exec.CommandContext(ctx, argv[0], argv[1:]...)
}

func (e *Exec) commandLine() string {
	parts := append([]string{e.Command}, e.Args...)
	line := strings.Join(parts, " ")
	if e.Privileged {
		line = "(privileged) " + line
	}
	return line
}
