package commands

import (
	"context"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/manifold/pkg/engine"
)

func newApplyCommand() *cobra.Command {
	var (
		selectNames []string
		watch       bool
		policyMode  string
	)

	cmd := &cobra.Command{
		Use:   "apply [paths...]",
		Short: "Apply manifests to this machine",
		Long: `Apply manifests to this machine.

This command:
  - Loads the manifests and orders them by their dependencies
  - Resolves every action against the facts of this machine
  - Evaluates policies over the resolved plan
  - Runs the atoms that are not yet in their desired state
  - Records the run in the history

The first failing atom stops the run.`,
		Example: `  # Apply the configured manifests
  manifold apply

  # Apply a directory of manifests
  manifold apply ./manifests

  # Apply one manifest and its dependencies
  manifold apply ./manifests --select dev.git

  # Re-apply whenever a manifest changes
  manifold apply ./manifests --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if policyMode != "" {
				cfg.Policy.Mode = policyMode
			}

			paths, err := manifestPaths(cfg, args)
			if err != nil {
				return err
			}

			env, err := newEnvironment(ctx, cfg, true)
			if err != nil {
				return err
			}
			defer env.Close(ctx)

			log.Info().
				Strs("paths", paths).
				Strs("select", selectNames).
				Bool("watch", watch).
				Msg("Applying manifests")

			runner := env.runner()
			if watch {
				return watchAndApply(ctx, cmd.OutOrStdout(), env, runner, paths, selectNames)
			}
			return applyOnce(ctx, cmd.OutOrStdout(), env, runner, paths, selectNames)
		},
	}

	cmd.Flags().StringSliceVarP(&selectNames, "select", "s", nil, "apply only these manifests and their dependencies")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-apply when manifests change")
	cmd.Flags().StringVar(&policyMode, "policy-mode", "", "policy mode (enforcing, advisory)")

	return cmd
}

func applyOnce(ctx context.Context, out io.Writer, env *environment, runner *engine.Runner, paths, selectNames []string) error {
	ctx = env.tel.WithContext(ctx)

	list, err := loadManifests(ctx, paths)
	if err != nil {
		return err
	}

	scope, err := buildContexts(env.cfg, true)
	if err != nil {
		return err
	}

	report, err := runner.Apply(ctx, list, engine.Options{Select: selectNames, Contexts: scope})
	if report != nil {
		if perr := printReport(out, report); perr != nil {
			return perr
		}
	}
	return err
}
