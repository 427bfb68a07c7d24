package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/manifold/pkg/config"
	"github.com/openfroyo/manifold/pkg/stores"
)

const configHeader = `# manifold configuration
#
# Relative paths are resolved against the directory of this file.

`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the configuration and run history",
		Long: `Create the manifold configuration directory, a default config file and
the run history database.

An existing config file is kept unless --force is given.`,
		Example: `  # Initialize in the user config directory
  manifold init

  # Initialize with a custom config path
  manifold init --config ./manifold.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			path := configPath
			if path == "" {
				path = config.DefaultPath()
			}

			log.Info().Str("config", path).Bool("force", force).Msg("Initializing")

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
			}

			_, err := os.Stat(path)
			switch {
			case err == nil && !force:
				fmt.Fprintf(out, "Config file already exists: %s\n", path)
			case err == nil || errors.Is(err, fs.ErrNotExist):
				if err := writeDefaultConfig(path); err != nil {
					return err
				}
				fmt.Fprintf(out, "Created config file: %s\n", path)
			default:
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				fmt.Fprintln(out, "Run history disabled")
				return nil
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(cfg.Store.Path), err)
			}
			store, err := stores.Open(ctx, cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("failed to initialize run history: %w", err)
			}
			if err := store.Close(); err != nil {
				return err
			}
			fmt.Fprintf(out, "Initialized run history: %s\n", cfg.Store.Path)

			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintf(out, "  1. List your manifests under 'manifests' in %s\n", path)
			fmt.Fprintln(out, "  2. Preview the changes:  manifold plan")
			fmt.Fprintln(out, "  3. Apply them:           manifold apply")

			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")

	return cmd
}

func writeDefaultConfig(path string) error {
	data, err := yaml.Marshal(config.Default())
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
