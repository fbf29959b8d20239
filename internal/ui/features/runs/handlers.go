package runs

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/leapstack-labs/runboard/internal/apiclient"
	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/ui/features/runs/components"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Handlers provides HTTP handlers for the run table.
type Handlers struct {
	tables TableSource
	logger *slog.Logger
	isDev  bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(tables TableSource, logger *slog.Logger, isDev bool) *Handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handlers{tables: tables, logger: logger, isDev: isDev}
}

// table resolves the session's table, writing the error response on failure.
func (h *Handlers) table(w http.ResponseWriter, r *http.Request) (*runtable.Table, bool) {
	t, err := h.tables.Table(r)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return t, true
}

// RedirectHome sends the root path to the runs page.
func (h *Handlers) RedirectHome(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/runs", http.StatusFound)
}

// RunsPage renders the runs page with the first page of runs.
func (h *Handlers) RunsPage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	ensureLoaded(r, t, h.logger)

	snap := t.Snapshot()
	view := buildView(r.Context(), t, snap)
	if err := components.Page("Evaluation runs", h.isDev, view, buildSignals(snap)).Render(r.Context(), w); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// RunsPageUpdates is the long-lived SSE endpoint of the runs page. Initial
// state is rendered by RunsPage; this only pushes changes.
func (h *Handlers) RunsPageUpdates(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	sse := datastar.NewSSE(w, r)

	updates, unsubscribe := t.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case _, open := <-updates:
			if !open {
				return
			}
			if err := h.sendTableView(sse, r, t); err != nil {
				_ = sse.ConsoleError(err)
			}
		}
	}
}

func (h *Handlers) sendTableView(sse *datastar.ServerSentEventGenerator, r *http.Request, t *runtable.Table) error {
	snap := t.Snapshot()
	if err := sse.PatchElementTempl(components.Table(buildView(r.Context(), t, snap))); err != nil {
		return err
	}
	return sse.MarshalAndPatchSignals(buildSignals(snap))
}

// Snapshot returns the table state as JSON.
func (h *Handlers) Snapshot(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	ensureLoaded(r, t, h.logger)
	writeJSON(w, http.StatusOK, t.Snapshot())
}

// Rows returns the rendered rows, cell by cell.
func (h *Handlers) Rows(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	ensureLoaded(r, t, h.logger)
	view := buildView(r.Context(), t, t.Snapshot())
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": view.Columns,
		"rows":    view.Rows,
	})
}

// Columns returns the column layout.
func (h *Handlers) Columns(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t.Columns())
}

// NextPage loads the next page of the active scope.
func (h *Handlers) NextPage(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	if err := t.LoadNextPage(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refetch reloads the loaded rows in place.
func (h *Handlers) Refetch(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	if err := t.Refetch(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetFilters returns the applied filters, the draft and the locked values.
func (h *Handlers) GetFilters(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, filtersResponse(t))
}

// SetFilters applies the filter values in the body and loads the first page
// of the new scope.
func (h *Handlers) SetFilters(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	values, err := readFilterValues(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	changed := t.SetFilters(r.Context(), values)
	if changed {
		ensureLoaded(r, t, h.logger)
	}
	writeJSON(w, http.StatusOK, FiltersChange{Changed: changed, Version: t.Filters().Version()})
}

// EditDraft replaces the draft with the filter values in the body.
func (h *Handlers) EditDraft(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	values, err := readFilterValues(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	t.Draft().Edit(func(f *core.FilterValues) { *f = values })
	writeJSON(w, http.StatusOK, filtersResponse(t))
}

// DiscardDraft drops the pending draft.
func (h *Handlers) DiscardDraft(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	t.Draft().Discard()
	w.WriteHeader(http.StatusNoContent)
}

// ApplyDraft applies the pending draft.
func (h *Handlers) ApplyDraft(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	changed := t.ApplyDraft(r.Context())
	if changed {
		ensureLoaded(r, t, h.logger)
	}
	writeJSON(w, http.StatusOK, FiltersChange{Changed: changed, Version: t.Filters().Version()})
}

// Selection changes the selection. With an action query parameter
// (toggle, select, deselect, clear) it acts on the key parameters;
// without one the selection signal in the body replaces the selection.
func (h *Handlers) Selection(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	keys := q["key"]
	switch action := q.Get("action"); action {
	case "toggle":
		for _, k := range keys {
			t.Toggle(k)
		}
	case "select":
		t.Select(keys...)
	case "deselect":
		t.Deselect(keys...)
	case "clear":
		t.ClearSelection()
	case "":
		var signals SelectionSignals
		if err := datastar.ReadSignals(r, &signals); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read signals: " + err.Error()})
			return
		}
		t.ClearSelection()
		t.Select(signals.Selection...)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown selection action %q", action)})
		return
	}
	writeJSON(w, http.StatusOK, SelectionSignals{Selection: t.Selection()})
}

// Export streams the loaded rows as CSV.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="runs.csv"`)
	if err := t.Export(r.Context(), w); err != nil {
		// Headers are gone; all that is left is to log.
		h.logger.Error("export failed", slog.Any("error", err))
	}
}

// DeleteSelected deletes the selected runs.
func (h *Handlers) DeleteSelected(w http.ResponseWriter, r *http.Request) {
	t, ok := h.table(w, r)
	if !ok {
		return
	}
	n, err := t.DeleteSelected(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("runs deleted", slog.Int("count", n))
	writeJSON(w, http.StatusOK, DeleteResponse{Deleted: n})
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var se *apiclient.StatusError
	switch {
	case errors.Is(err, runtable.ErrClosed):
		return http.StatusGone
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
