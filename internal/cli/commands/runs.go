package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/runboard/internal/cli/output"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/watch"
)

// NewRunsCommand creates the runs command group.
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List, export, watch and delete evaluation runs",
		Long: `Work with the evaluation runs of the configured project.

Every subcommand lists runs the way the run table does: pages are loaded in
order, columns come from the references and metrics of the loaded runs, and
filters are shared with every other table of the same scope.`,
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsExportCommand())
	cmd.AddCommand(newRunsWatchCommand())
	cmd.AddCommand(newRunsDeleteCommand())
	return cmd
}

// ListOptions holds options for runs list.
type ListOptions struct {
	TableOptions
	Pages int
	All   bool
}

func newRunsListCommand() *cobra.Command {
	opts := &ListOptions{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List evaluation runs",
		Example: `  # First page as a table
  runboard runs list

  # Three pages of failed runs as JSON
  runboard runs list --pages 3 --status failure -o json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, opts)
		},
	}
	addTableFlags(cmd, &opts.TableOptions)
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "Number of pages to load")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Load every page")
	return cmd
}

func maxPages(o ListOptions) int {
	if o.All {
		return 0
	}
	if o.Pages < 1 {
		return 1
	}
	return o.Pages
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	ctx := cmd.Context()
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := cc.openTable(ctx, opts.TableOptions)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.LoadAll(ctx, maxPages(*opts)); err != nil {
		return err
	}
	headers, records := t.Records(ctx)

	r := cc.Renderer
	switch r.EffectiveMode() {
	case output.ModeJSON:
		return r.JSON(recordObjects(headers, records))
	case output.ModeCSV:
		return r.CSV(headers, records)
	default:
		r.Table(headers, records)
		snap := t.Snapshot()
		if snap.HasMore {
			r.Muted("%d of %d runs loaded; use --pages or --all for more", len(records), snap.Total)
		}
		return nil
	}
}

// recordObjects turns records into one header-keyed object per row.
func recordObjects(headers []string, records [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(records))
	for _, rec := range records {
		obj := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				obj[h] = rec[i]
			}
		}
		out = append(out, obj)
	}
	return out
}

// ExportOptions holds options for runs export.
type ExportOptions struct {
	ListOptions
	File string
}

func newRunsExportCommand() *cobra.Command {
	opts := &ExportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export evaluation runs as CSV",
		Long: `Export the loaded runs as CSV. Cells hold the same values the table
shows; metric cells hold the raw mean when there is one.`,
		Example: `  runboard runs export --all --file runs.csv`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, opts)
		},
	}
	addTableFlags(cmd, &opts.TableOptions)
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "Number of pages to load")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Load every page")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "Write to file instead of stdout")
	return cmd
}

func runExport(cmd *cobra.Command, opts *ExportOptions) error {
	ctx := cmd.Context()
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := cc.openTable(ctx, opts.TableOptions)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.LoadAll(ctx, maxPages(opts.ListOptions)); err != nil {
		return err
	}

	w := cc.Renderer.Writer()
	if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("create %s: %w", opts.File, err)
		}
		defer f.Close()
		w = f
	}
	if err := t.Export(ctx, w); err != nil {
		return err
	}
	if opts.File != "" {
		cc.Renderer.Success("exported %d runs to %s", len(t.ResolvedRows()), opts.File)
	}
	return nil
}

func newRunsWatchCommand() *cobra.Command {
	opts := &TableOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch evaluation runs update live",
		Long: `Open an interactive table of runs. While any loaded run is in progress the
table is refetched every poll interval.

Keys: up/down move, space selects, c clears the selection, n loads the
next page, r refetches, D deletes the selected runs, q quits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			t, err := cc.openTable(ctx, *opts)
			if err != nil {
				return err
			}
			defer t.Close()

			return watch.Run(ctx, t, watch.Options{
				Title:     cc.Cfg.ProjectID,
				Input:     cmd.InOrStdin(),
				Output:    cmd.OutOrStdout(),
				AltScreen: cc.Renderer.IsTTY(),
				Logger:    cc.Logger,
			})
		},
	}
	addTableFlags(cmd, opts)
	return cmd
}

// DeleteOptions holds options for runs delete.
type DeleteOptions struct {
	ListOptions
	Yes bool
}

func newRunsDeleteCommand() *cobra.Command {
	opts := &DeleteOptions{}
	cmd := &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete evaluation runs",
		Long: `Delete runs by id. Only runs within the loaded pages can be deleted;
use --pages or --all to reach older runs.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts, args)
		},
	}
	cmd.Flags().IntVar(&opts.Pages, "pages", 1, "Number of pages to search for the runs")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Search every page")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "Delete without asking")
	return cmd
}

func runDelete(cmd *cobra.Command, opts *DeleteOptions, runIDs []string) error {
	if !opts.Yes {
		return fmt.Errorf("refusing to delete %d runs without --yes", len(runIDs))
	}
	ctx := cmd.Context()
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := cc.openTable(ctx, opts.TableOptions)
	if err != nil {
		return err
	}
	defer t.Close()

	if err := t.LoadAll(ctx, maxPages(opts.ListOptions)); err != nil {
		return err
	}
	keys, missing := keysForRunIDs(t, runIDs)
	for _, id := range missing {
		cc.Renderer.Warning("run %s is not in the loaded pages", id)
	}
	if len(keys) == 0 {
		return fmt.Errorf("none of the runs were found")
	}

	t.Select(keys...)
	n, err := t.DeleteSelected(ctx)
	if err != nil {
		return err
	}
	if cc.Renderer.EffectiveMode() == output.ModeJSON {
		return cc.Renderer.JSON(map[string]any{"deleted": n, "missing": missing})
	}
	cc.Renderer.Success("deleted %d runs", n)
	return nil
}

func keysForRunIDs(t *runtable.Table, runIDs []string) (keys, missing []string) {
	byID := make(map[string]string)
	for _, r := range t.ResolvedRows() {
		byID[r.RunID] = r.Key
	}
	for _, id := range runIDs {
		if k, ok := byID[id]; ok {
			keys = append(keys, k)
		} else {
			missing = append(missing, id)
		}
	}
	return keys, missing
}
