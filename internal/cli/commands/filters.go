package commands

import (
	"fmt"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/runboard/internal/cli/output"
	"github.com/leapstack-labs/runboard/internal/state"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// NewFiltersCommand creates the filters command group.
func NewFiltersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Inspect and clear saved table filters",
	}
	cmd.AddCommand(newFiltersListCommand())
	cmd.AddCommand(newFiltersClearCommand())
	return cmd
}

func newFiltersListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the saved filters of every scope",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := NewCommandContextWithoutAPI(cmd)
			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			saved, err := store.ListFilters(cmd.Context())
			if err != nil {
				return err
			}
			return renderFilters(cc.Renderer, saved)
		},
	}
}

func renderFilters(r *output.Renderer, saved []state.SavedFilters) error {
	switch r.EffectiveMode() {
	case output.ModeJSON:
		if saved == nil {
			saved = []state.SavedFilters{}
		}
		return r.JSON(saved)
	default:
		headers := []string{"Scope", "Version", "Filters", "Updated"}
		records := make([][]string, 0, len(saved))
		for _, s := range saved {
			records = append(records, []string{
				s.ScopeKey,
				fmt.Sprint(s.Meta.Version),
				describeFilters(s.Meta.FilterValues),
				humanize.Time(s.UpdatedAt),
			})
		}
		if r.EffectiveMode() == output.ModeCSV {
			return r.CSV(headers, records)
		}
		r.Table(headers, records)
		return nil
	}
}

// describeFilters summarizes filter values on one line.
func describeFilters(f core.FilterValues) string {
	var parts []string
	if f.Search != "" {
		parts = append(parts, fmt.Sprintf("search=%q", f.Search))
	}
	if len(f.StatusFilters) > 0 {
		parts = append(parts, "status="+strings.Join(f.StatusFilters, "|"))
	}
	if len(f.EvaluationTypeFilters) > 0 {
		parts = append(parts, "type="+strings.Join(f.EvaluationTypeFilters, "|"))
	}
	for role, ids := range f.ReferenceFilters {
		if len(ids) > 0 {
			parts = append(parts, string(role)+"="+strings.Join(ids, "|"))
		}
	}
	for flag, on := range f.Flags {
		if on {
			parts = append(parts, flag)
		}
	}
	if f.DateRange != nil {
		parts = append(parts, "date range")
	}
	if len(parts) == 0 {
		return "(none)"
	}
	slices.Sort(parts)
	return strings.Join(parts, ", ")
}

func newFiltersClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [scope-key]",
		Short: "Clear saved filters of one scope, or of every scope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := NewCommandContextWithoutAPI(cmd)
			store, err := openStore(cc.Cfg, cc.Logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 1 {
				removed, err := store.DeleteFilters(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("no saved filters for scope %q", args[0])
				}
				cc.Renderer.Success("cleared filters of %s", args[0])
				return nil
			}
			n, err := store.ClearFilters(cmd.Context())
			if err != nil {
				return err
			}
			cc.Renderer.Success("cleared filters of %d scopes", n)
			return nil
		},
	}
}
