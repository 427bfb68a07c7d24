package commands

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/manifold/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		selectNames []string
		record      bool
	)

	cmd := &cobra.Command{
		Use:   "plan [paths...]",
		Short: "Show what apply would change",
		Long: `Resolve manifests and plan every atom without changing anything.

Each atom is listed with a marker:
  ~  would run, followed by its side effects
  =  already in the desired state
  !  failed to plan

Policies are evaluated as they would be by apply.`,
		Example: `  # Plan the configured manifests
  manifold plan

  # Plan as JSON
  manifold plan ./manifests --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			paths, err := manifestPaths(cfg, args)
			if err != nil {
				return err
			}

			env, err := newEnvironment(ctx, cfg, record)
			if err != nil {
				return err
			}
			defer env.Close(ctx)
			ctx = env.tel.WithContext(ctx)

			log.Debug().Strs("paths", paths).Msg("Planning manifests")

			list, err := loadManifests(ctx, paths)
			if err != nil {
				return err
			}

			scope, err := buildContexts(cfg, true)
			if err != nil {
				return err
			}

			report, err := env.runner().Plan(ctx, list, engine.Options{Select: selectNames, Contexts: scope})
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
					return perr
				}
			}
			return err
		},
	}

	cmd.Flags().StringSliceVarP(&selectNames, "select", "s", nil, "plan only these manifests and their dependencies")
	cmd.Flags().BoolVar(&record, "record", false, "record the plan in the run history")

	return cmd
}
