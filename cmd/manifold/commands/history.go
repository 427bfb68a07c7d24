package commands

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/manifold/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show past runs",
		Long:  `List recorded apply and plan runs, newest first.`,
		Example: `  # Show the last runs
  manifold history

  # Show one run in detail
  manifold history show 3f1c...

  # Keep only the last 20 runs
  manifold history prune --keep 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				runs, err := store.ListRuns(cmd.Context(), limit, 0)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), runs)
				}
				return printRuns(cmd.OutOrStdout(), runs)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")

	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the atoms and events of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withStore(ctx, func(store *stores.SQLiteStore) error {
				run, err := store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				records, err := store.ListAtomsByRun(ctx, run.ID)
				if err != nil {
					return err
				}
				events, err := store.GetEvents(ctx, &run.ID, nil, -1, 0)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return writeJSON(out, struct {
						Run    *stores.Run          `json:"run"`
						Atoms  []*stores.AtomRecord `json:"atoms"`
						Events []*stores.Event      `json:"events"`
					}{run, records, events})
				}
				return printRun(out, run, records, events)
			})
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative")
			}
			return withStore(cmd.Context(), func(store *stores.SQLiteStore) error {
				n, err := store.PruneRuns(cmd.Context(), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d runs\n", n)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of runs to keep")

	return cmd
}

// withStore opens the configured run history for fn.
func withStore(ctx context.Context, fn func(store *stores.SQLiteStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.Store.Enabled {
		return fmt.Errorf("run history is disabled in the configuration")
	}

	store, err := stores.Open(ctx, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer store.Close()

	return fn(store)
}

func printRuns(out io.Writer, runs []*stores.Run) error {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tSTARTED\tDURATION\tEXECUTED\tSKIPPED")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			run.ID, run.Mode, run.Status,
			run.StartedAt.Local().Format(time.DateTime),
			runDuration(run), run.Executed, run.Skipped)
	}
	return w.Flush()
}

func printRun(out io.Writer, run *stores.Run, records []*stores.AtomRecord, events []*stores.Event) error {
	fmt.Fprintf(out, "Run %s\n", run.ID)
	fmt.Fprintf(out, "  mode:      %s\n", run.Mode)
	fmt.Fprintf(out, "  status:    %s\n", run.Status)
	fmt.Fprintf(out, "  manifests: %s\n", run.Manifests)
	fmt.Fprintf(out, "  started:   %s\n", run.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(out, "  duration:  %s\n", runDuration(run))
	if run.Error != nil {
		fmt.Fprintf(out, "  error:     %s\n", *run.Error)
	}

	if len(records) > 0 {
		fmt.Fprintln(out, "\nAtoms:")
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, r := range records {
			line := fmt.Sprintf("  %s\t%s[%d]\t%s\t%s", r.Status, r.Manifest, r.ActionIndex, r.Action, r.Description)
			if r.Error != nil {
				line += "\t" + *r.Error
			}
			fmt.Fprintln(w, line)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if len(events) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		for _, e := range events {
			fmt.Fprintf(out, "  %s %-7s %s\n", e.Timestamp.Local().Format(time.TimeOnly), e.Level, e.Message)
		}
	}
	return nil
}

func runDuration(run *stores.Run) string {
	if run.CompletedAt == nil {
		return "-"
	}
	return run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String()
}
