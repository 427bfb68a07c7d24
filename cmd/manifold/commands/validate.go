package commands

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/manifold/pkg/manifests"
)

type validateManifest struct {
	Name    string   `json:"name"`
	Source  string   `json:"source"`
	Depends []string `json:"depends,omitempty"`
	Actions []string `json:"actions"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate manifests and policies",
		Long: `Validate manifests and policies without evaluating any condition.

This command checks:
  - YAML and CUE syntax
  - Known action names and strict payload fields
  - Required payload values
  - Manifest dependencies (unknown names, cycles)
  - Policy compilation`,
		Example: `  # Validate the configured manifests
  manifold validate

  # Validate a directory
  manifold validate ./manifests`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			paths, err := manifestPaths(cfg, args)
			if err != nil {
				return err
			}

			log.Debug().Strs("paths", paths).Msg("Validating manifests")

			list, err := loadManifests(cmd.Context(), paths)
			if err != nil {
				return err
			}
			ordered, err := manifests.Order(list)
			if err != nil {
				return err
			}

			var policies []string
			if cfg.Policy.Enabled {
				engine, err := newPolicyEngine(cmd.Context(), cfg, log.Logger)
				if err != nil {
					return err
				}
				for _, p := range engine.ListPolicies() {
					if p.Enabled {
						policies = append(policies, p.Name)
					}
				}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				views := make([]validateManifest, 0, len(ordered))
				for _, m := range ordered {
					view := validateManifest{Name: m.Name, Source: m.Source, Depends: m.Depends, Actions: []string{}}
					for _, a := range m.Actions {
						view.Actions = append(view.Actions, a.String())
					}
					views = append(views, view)
				}
				return writeJSON(out, struct {
					Manifests []validateManifest `json:"manifests"`
					Policies  []string           `json:"policies"`
				}{views, policies})
			}

			total := 0
			for _, m := range ordered {
				fmt.Fprintf(out, "%s (%s): %d actions\n", m.Name, m.Source, len(m.Actions))
				total += len(m.Actions)
			}
			fmt.Fprintf(out, "%d manifests, %d actions valid\n", len(ordered), total)
			if len(policies) > 0 {
				fmt.Fprintf(out, "%d policies enabled: %s\n", len(policies), strings.Join(policies, ", "))
			}

			return nil
		},
	}

	return cmd
}
