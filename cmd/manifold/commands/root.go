package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/manifold/pkg/engine"
)

// Exit codes.
const (
	ExitFailure   = 1
	ExitPermanent = 2
	ExitTransient = 3
	ExitCancelled = 130
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	variables  []string

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

// ExitCode maps a command error to the process exit status. Permanent
// failures need a change to manifests or policies; transient ones may succeed
// when retried.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case engine.IsCancelled(err):
		return ExitCancelled
	case engine.IsPermanent(err):
		return ExitPermanent
	case engine.IsTransient(err):
		return ExitTransient
	default:
		return ExitFailure
	}
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "manifold",
		Short: "manifold - declarative machine provisioning",
		Long: `manifold provisions the machine it runs on from declarative manifests.

A manifest is an ordered list of actions such as creating files, installing
packages or cloning repositories. Actions carry optional conditions and
variants that are evaluated against facts about the machine, so one set of
manifests serves every machine you own.

Features:
  - YAML and CUE manifests with dependencies between them
  - Starlark conditions with bounded evaluation
  - Idempotent atoms: only what differs is changed
  - Rego policies evaluated before anything runs
  - Run history in SQLite`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringArrayVar(&variables, "var", nil, "set a variable (key=value, repeatable)")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newContextsCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
