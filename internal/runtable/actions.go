package runtable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/leapstack-labs/runboard/internal/export"
	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Filters returns the applied filter state of the table's scope, shared
// with every table of that scope. Changes made through it take effect on the
// next read of the table.
func (t *Table) Filters() *filters.State {
	return t.filters
}

// Draft returns the table's own pending filter edit.
func (t *Table) Draft() *filters.Draft {
	return t.draft
}

// SetFilters applies values directly. It reports whether they differ from
// the applied filters, in which case pages are reset.
func (t *Table) SetFilters(ctx context.Context, values core.FilterValues) bool {
	_, changed := t.filters.Set(ctx, values)
	if changed {
		t.sync()
	}
	return changed
}

// ApplyDraft applies the table's pending draft.
func (t *Table) ApplyDraft(ctx context.Context) bool {
	_, changed := t.draft.Apply(ctx)
	if changed {
		t.sync()
	}
	return changed
}

// Select adds loaded rows to the selection. Unknown and skeleton keys are
// ignored.
func (t *Table) Select(keys ...string) {
	known := keySet(t.ResolvedRows())

	t.mu.Lock()
	for _, k := range keys {
		if _, ok := known[k]; ok {
			t.selection[k] = struct{}{}
		}
	}
	t.mu.Unlock()
	t.notifier.Broadcast()
}

// Deselect removes keys from the selection.
func (t *Table) Deselect(keys ...string) {
	t.mu.Lock()
	for _, k := range keys {
		delete(t.selection, k)
	}
	t.mu.Unlock()
	t.notifier.Broadcast()
}

// Toggle flips the selection of one row.
func (t *Table) Toggle(key string) {
	t.mu.Lock()
	_, selected := t.selection[key]
	t.mu.Unlock()
	if selected {
		t.Deselect(key)
		return
	}
	t.Select(key)
}

// ClearSelection empties the selection.
func (t *Table) ClearSelection() {
	t.mu.Lock()
	clear(t.selection)
	t.mu.Unlock()
	t.notifier.Broadcast()
}

// Selection returns the selected row keys, sorted.
func (t *Table) Selection() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.selection))
	for k := range t.selection {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (t *Table) pruneSelectionLocked(rows []core.RunRow) {
	known := keySet(rows)
	for k := range t.selection {
		if _, ok := known[k]; !ok {
			delete(t.selection, k)
		}
	}
}

func keySet(rows []core.RunRow) map[string]struct{} {
	out := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		if !r.IsSkeleton {
			out[r.Key] = struct{}{}
		}
	}
	return out
}

// DeleteSelected deletes the selected runs, drops every cache entry of the
// project and reloads the first page. It returns the number of runs deleted.
func (t *Table) DeleteSelected(ctx context.Context) (int, error) {
	if t.isClosed() {
		return 0, ErrClosed
	}
	selected := t.Selection()
	if len(selected) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(selected))
	for _, k := range selected {
		want[k] = struct{}{}
	}
	var ids []string
	for _, r := range t.ResolvedRows() {
		if _, ok := want[r.Key]; ok && r.RunID != "" {
			ids = append(ids, r.RunID)
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	err := t.cfg.API.DeleteRuns(ctx, core.DeleteRunsRequest{
		Kind:      t.cfg.Kind,
		ProjectID: t.cfg.ProjectID,
		RunIDs:    ids,
	})
	if err != nil {
		return 0, fmt.Errorf("delete %d runs: %w", len(ids), err)
	}
	t.logger.Info("runs deleted", slog.Int("count", len(ids)))

	t.rows.InvalidateScope(t.cfg.ProjectID)
	t.stats.InvalidateScope(t.cfg.ProjectID)
	t.ClearSelection()

	p := t.sync()
	p.ResetPages()
	if err := t.LoadNextPage(ctx); err != nil {
		return len(ids), fmt.Errorf("reload after delete: %w", err)
	}
	return len(ids), nil
}

func (t *Table) exporter() *export.Exporter {
	return &export.Exporter{
		Resolve: t.exportValue,
		Label:   t.exportLabel,
		Logger:  t.logger,
	}
}

// Export writes the loaded rows as CSV using the current column layout.
// Cell values go through the same lookups the table displays.
func (t *Table) Export(ctx context.Context, w io.Writer) error {
	return t.exporter().WriteCSV(ctx, w, t.Columns().Flatten(), t.ResolvedRows())
}

// Records returns the resolved header and one record per loaded row, the
// same values Export writes.
func (t *Table) Records(ctx context.Context) (headers []string, records [][]string) {
	exp := t.exporter()
	cols := t.Columns().Flatten()
	return exp.Headers(ctx, cols), exp.Records(ctx, cols, t.ResolvedRows())
}

// Snapshot is a point-in-time view of the table for renderers.
type Snapshot struct {
	Scope     string            `json:"scope"`
	Version   uint64            `json:"version"`
	Rows      []core.RunRow     `json:"rows"`
	Columns   []export.Column   `json:"columns"`
	Total     int               `json:"total"`
	HasMore   bool              `json:"hasMore"`
	Loading   bool              `json:"loading"`
	Err       string            `json:"error,omitempty"`
	Polling   bool              `json:"polling"`
	Selection []string          `json:"selection"`
	Filters   core.FilterValues `json:"filters"`
}

// Snapshot returns the current state of the table.
func (t *Table) Snapshot() Snapshot {
	p := t.sync()
	meta := t.filters.Meta()
	s := Snapshot{
		Scope:     p.ScopeID(),
		Version:   meta.Version,
		Rows:      p.Rows(),
		Columns:   t.Columns().Flatten(),
		Total:     p.Total(),
		HasMore:   p.HasMore(),
		Loading:   p.Loading(),
		Polling:   t.Polling(),
		Selection: t.Selection(),
		Filters:   meta.Values(),
	}
	if err := p.Err(); err != nil {
		s.Err = err.Error()
	}
	return s
}
