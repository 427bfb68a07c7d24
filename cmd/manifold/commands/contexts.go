package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newContextsCommand() *cobra.Command {
	var includeEnv bool

	cmd := &cobra.Command{
		Use:   "contexts",
		Short: "Show the facts conditions are evaluated against",
		Long: `Show the run context of this machine.

Conditions and templates see the namespaces os, user, env and variables.
Variables are also available by their own name unless they collide with a
namespace.`,
		Example: `  # Show the context
  manifold contexts

  # Include the process environment
  manifold contexts --env

  # Check how a variable is seen
  manifold contexts --var profile=work --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			scope, err := buildContexts(cfg, includeEnv)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, scope.ToMap())
			}

			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(scope.ToMap())
		},
	}

	cmd.Flags().BoolVar(&includeEnv, "env", false, "include the process environment")

	return cmd
}
