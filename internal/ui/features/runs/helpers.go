package runs

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/ui/features/runs/components"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// ensureLoaded loads the first page of a scope nothing was loaded for yet.
// Failures stay on the pagination and surface through the snapshot.
func ensureLoaded(r *http.Request, t *runtable.Table, logger *slog.Logger) {
	snap := t.Snapshot()
	if snap.Err != "" || !snap.HasMore || len(t.ResolvedRows()) > 0 {
		return
	}
	if err := t.LoadNextPage(r.Context()); err != nil {
		logger.Debug("first page failed", slog.String("scope", snap.Scope), slog.Any("error", err))
	}
}

func buildView(ctx context.Context, t *runtable.Table, snap runtable.Snapshot) components.TableView {
	view := components.TableView{
		Total:    snap.Total,
		HasMore:  snap.HasMore,
		Loading:  snap.Loading,
		Polling:  snap.Polling,
		Error:    snap.Err,
		Selected: len(snap.Selection),
		Filters:  snap.Filters,
	}
	for _, c := range snap.Columns {
		view.Columns = append(view.Columns, components.ColumnView{ID: c.ID, Label: c.Label})
	}
	for _, row := range snap.Rows {
		rv := components.RowView{
			Key:      row.Key,
			RunID:    row.RunID,
			Status:   string(row.Status),
			Selected: slices.Contains(snap.Selection, row.Key),
			Skeleton: row.IsSkeleton,
			Cells:    make([]components.CellView, 0, len(snap.Columns)),
		}
		for _, col := range snap.Columns {
			cell := t.Cell(ctx, row, col)
			rv.Cells = append(rv.Cells, components.CellView{Text: cell.Text, Loading: cell.Loading, Stale: cell.Stale})
		}
		view.Rows = append(view.Rows, rv)
	}
	return view
}

func buildSignals(snap runtable.Snapshot) components.Signals {
	status := snap.Filters.StatusFilters
	if status == nil {
		status = []string{}
	}
	selection := snap.Selection
	if selection == nil {
		selection = []string{}
	}
	return components.Signals{
		Search:    snap.Filters.Search,
		Status:    status,
		Selection: selection,
		Total:     snap.Total,
		HasMore:   snap.HasMore,
		Polling:   snap.Polling,
	}
}

func filtersResponse(t *runtable.Table) FiltersResponse {
	f, d := t.Filters(), t.Draft()
	meta := f.Meta()
	return FiltersResponse{
		Applied:  meta.Values(),
		Draft:    d.Values(),
		HasDraft: d.Pending(),
		Locked:   f.Locked(),
		Version:  meta.Version,
		Key:      f.Key(),
	}
}

// readFilterValues decodes filter values from the request signals. Signals
// that are not filter fields are ignored.
func readFilterValues(r *http.Request) (core.FilterValues, error) {
	var values core.FilterValues
	if err := datastar.ReadSignals(r, &values); err != nil {
		return core.FilterValues{}, fmt.Errorf("read filters: %w", err)
	}
	return values, nil
}
