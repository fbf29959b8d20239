package runs

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/ui/features"
	"github.com/leapstack-labs/runboard/internal/ui/session"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// =============================================================================
// Test Setup Helpers
// =============================================================================

func setupTestHandlers(t *testing.T, runs ...core.APIRun) (*Handlers, *runtable.Table, *features.TestFixture) {
	t.Helper()
	fixture := features.SetupTestFixture(t, runs...)
	tbl := fixture.NewTable()
	return NewHandlers(features.StaticTables{T: tbl}, nil, false), tbl, fixture
}

func fiveRuns() []core.APIRun {
	return append(features.PlainRuns(4, core.RunStatusSuccess),
		core.APIRun{ID: "r5", Name: "Run 5", Status: core.RunStatusFailure})
}

func do(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func resolvedKeys(rows []core.RunRow) []string {
	var out []string
	for _, r := range rows {
		if !r.IsSkeleton {
			out = append(out, r.Key)
		}
	}
	return out
}

// =============================================================================
// RunsPage Tests - full HTML page with the server-rendered table
// =============================================================================

func TestRunsPage(t *testing.T) {
	h, _, _ := setupTestHandlers(t, fiveRuns()...)

	rec := do(h.RunsPage, http.MethodGet, "/runs", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, want := range []string{
		"<!doctype html>",
		"<title>Evaluation runs - Runboard</title>",
		"data-init",
		"/api/runs/updates",
		`id="runs-table"`,
		`data-key="p1::r1"`,
		"Run 3",
		"Load more",
	} {
		assert.Contains(t, body, want, "response should contain %q", want)
	}
	assert.NotContains(t, body, "Run 4", "only the first page is rendered")
}

func TestRunsPage_Empty(t *testing.T) {
	h, _, _ := setupTestHandlers(t)

	rec := do(h.RunsPage, http.MethodGet, "/runs", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "No runs")
	assert.NotContains(t, rec.Body.String(), "Load more")
}

func TestRunsPage_EscapesRunNames(t *testing.T) {
	h, _, _ := setupTestHandlers(t, core.APIRun{ID: "x", Name: `<script>alert(1)</script>`, Status: core.RunStatusSuccess})

	rec := do(h.RunsPage, http.MethodGet, "/runs", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "<script>alert(1)</script>")
	assert.Contains(t, rec.Body.String(), "&lt;script&gt;")
}

// =============================================================================
// JSON endpoints
// =============================================================================

func TestSnapshot_LoadsFirstPage(t *testing.T) {
	h, _, fixture := setupTestHandlers(t, fiveRuns()...)

	rec := do(h.Snapshot, http.MethodGet, "/api/runs/", "")

	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[runtable.Snapshot](t, rec)
	assert.Equal(t, []string{"p1::r1", "p1::r2", "p1::r3"}, resolvedKeys(snap.Rows))
	assert.True(t, snap.HasMore)
	assert.Equal(t, 1, fixture.API.Calls("ListRuns"))

	// A loaded scope is not loaded again.
	do(h.Snapshot, http.MethodGet, "/api/runs/", "")
	assert.Equal(t, 1, fixture.API.Calls("ListRuns"))
}

func TestRows(t *testing.T) {
	h, _, _ := setupTestHandlers(t, features.PlainRuns(2, core.RunStatusSuccess)...)

	rec := do(h.Rows, http.MethodGet, "/api/runs/rows", "")

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode[struct {
		Columns []struct{ ID string } `json:"columns"`
		Rows    []struct {
			Key   string `json:"key"`
			Cells []struct {
				Text string `json:"text"`
			} `json:"cells"`
		} `json:"rows"`
	}](t, rec)
	require.NotEmpty(t, out.Columns)
	assert.Equal(t, runtable.ColumnRunName, out.Columns[0].ID)
	require.Len(t, out.Rows, 2)
	assert.Equal(t, "p1::r1", out.Rows[0].Key)
	assert.Equal(t, "Run 1", out.Rows[0].Cells[0].Text)
	assert.Len(t, out.Rows[0].Cells, len(out.Columns))
}

func TestColumns(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, features.PlainRuns(1, core.RunStatusSuccess)...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	rec := do(h.Columns, http.MethodGet, "/api/runs/columns", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"references":null,"metrics":null}`, normalizeColumns(t, rec.Body.Bytes()))
}

// normalizeColumns maps empty column lists to null so the assertion does not
// depend on how an empty layout is encoded.
func normalizeColumns(t *testing.T, body []byte) string {
	t.Helper()
	var raw map[string][]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &raw))
	out := map[string]any{"references": nil, "metrics": nil}
	for k, v := range raw {
		if len(v) > 0 {
			out[k] = v
		}
	}
	data, err := json.Marshal(out)
	require.NoError(t, err)
	return string(data)
}

func TestNextPage(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, fiveRuns()...)

	for range 2 {
		rec := do(h.NextPage, http.MethodPost, "/api/runs/next", "")
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	assert.Len(t, tbl.ResolvedRows(), 5)
}

func TestNextPage_BackendError(t *testing.T) {
	h, _, fixture := setupTestHandlers(t, fiveRuns()...)
	fixture.API.ListErr = errors.New("backend down")

	rec := do(h.NextPage, http.MethodPost, "/api/runs/next", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[errorResponse](t, rec).Error, "backend down")
}

func TestRefetch(t *testing.T) {
	h, tbl, fixture := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))
	before := fixture.API.Calls("ListRuns")

	rec := do(h.Refetch, http.MethodPost, "/api/runs/refetch", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Greater(t, fixture.API.Calls("ListRuns"), before)
	assert.Len(t, tbl.ResolvedRows(), 3, "loaded rows are kept")
}

// =============================================================================
// Filters
// =============================================================================

func TestSetFilters(t *testing.T) {
	h, tbl, fixture := setupTestHandlers(t, fiveRuns()...)

	rec := do(h.SetFilters, http.MethodPut, "/api/runs/filters", `{"status":["failure"],"selection":[],"total":0}`)

	require.Equal(t, http.StatusOK, rec.Code)
	change := decode[FiltersChange](t, rec)
	assert.True(t, change.Changed)
	assert.Positive(t, change.Version)
	assert.Equal(t, []string{"p1::r5"}, resolvedKeys(tbl.Rows()), "the new scope is loaded")
	last := fixture.API.ListRequests[len(fixture.API.ListRequests)-1]
	assert.Equal(t, []string{"failure"}, last.StatusFilters)

	rec = do(h.SetFilters, http.MethodPut, "/api/runs/filters", `{"status":["failure"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode[FiltersChange](t, rec)
	assert.False(t, again.Changed)
	assert.Equal(t, change.Version, again.Version)
}

func TestSetFilters_BadBody(t *testing.T) {
	h, _, _ := setupTestHandlers(t)

	rec := do(h.SetFilters, http.MethodPut, "/api/runs/filters", `{not json`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFilters_PersistedPerScope(t *testing.T) {
	h, _, fixture := setupTestHandlers(t, fiveRuns()...)

	rec := do(h.SetFilters, http.MethodPut, "/api/runs/filters", `{"search":"nightly"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	saved, err := fixture.Store.ListFilters(context.Background())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "nightly", saved[0].Meta.Search)
}

func TestDraftLifecycle(t *testing.T) {
	h, tbl, fixture := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	rec := do(h.EditDraft, http.MethodPatch, "/api/runs/filters/draft", `{"search":"nightly"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	state := decode[FiltersResponse](t, rec)
	assert.True(t, state.HasDraft)
	assert.Equal(t, "nightly", state.Draft.Search)
	assert.Empty(t, state.Applied.Search, "a draft is not applied")
	assert.Len(t, tbl.ResolvedRows(), 3, "a draft does not touch the dataset")

	rec = do(h.ApplyDraft, http.MethodPost, "/api/runs/filters/apply", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[FiltersChange](t, rec).Changed)
	last := fixture.API.ListRequests[len(fixture.API.ListRequests)-1]
	assert.Equal(t, "nightly", last.Search)

	rec = do(h.GetFilters, http.MethodGet, "/api/runs/filters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[FiltersResponse](t, rec)
	assert.False(t, state.HasDraft)
	assert.Equal(t, "nightly", state.Applied.Search)
	assert.NotEmpty(t, state.Key)
}

func TestDiscardDraft(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t)

	do(h.EditDraft, http.MethodPatch, "/api/runs/filters/draft", `{"search":"x"}`)
	require.True(t, tbl.Draft().Pending())

	rec := do(h.DiscardDraft, http.MethodDelete, "/api/runs/filters/draft", "")

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, tbl.Draft().Pending())
}

// =============================================================================
// Selection, export and delete
// =============================================================================

func TestSelection(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		wantStatus int
		want       []string
	}{
		{
			name:       "toggle selects",
			target:     "/api/runs/selection?action=toggle&key=p1::r1",
			wantStatus: http.StatusOK,
			want:       []string{"p1::r1"},
		},
		{
			name:       "select ignores unknown keys",
			target:     "/api/runs/selection?action=select&key=p1::r2&key=p1::nope",
			wantStatus: http.StatusOK,
			want:       []string{"p1::r2"},
		},
		{
			name:       "signals replace the selection",
			target:     "/api/runs/selection",
			body:       `{"selection":["p1::r3","p1::r2"],"search":""}`,
			wantStatus: http.StatusOK,
			want:       []string{"p1::r2", "p1::r3"},
		},
		{
			name:       "unknown action",
			target:     "/api/runs/selection?action=flip",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, tbl, _ := setupTestHandlers(t, fiveRuns()...)
			require.NoError(t, tbl.LoadNextPage(context.Background()))

			rec := do(h.Selection, http.MethodPost, tt.target, tt.body)

			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.want, decode[SelectionSignals](t, rec).Selection)
				assert.Equal(t, tt.want, tbl.Selection())
			}
		})
	}
}

func TestSelection_ToggleTwiceClears(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	do(h.Selection, http.MethodPost, "/api/runs/selection?action=toggle&key=p1::r1", "")
	rec := do(h.Selection, http.MethodPost, "/api/runs/selection?action=toggle&key=p1::r1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[SelectionSignals](t, rec).Selection)
}

func TestExport(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	rec := do(h.Export, http.MethodGet, "/api/runs/export", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "runs.csv")

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4, "header plus the loaded rows")
	assert.Equal(t, "Run 1", records[1][0])
}

func TestDeleteSelected(t *testing.T) {
	h, tbl, fixture := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))
	tbl.Select("p1::r1", "p1::r2")

	rec := do(h.DeleteSelected, http.MethodPost, "/api/runs/delete", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[DeleteResponse](t, rec).Deleted)
	require.Len(t, fixture.API.DeleteRequests, 1)
	assert.Equal(t, []string{"r1", "r2"}, fixture.API.DeleteRequests[0].RunIDs)
	assert.Empty(t, tbl.Selection())
}

func TestDeleteSelected_NothingSelected(t *testing.T) {
	h, _, fixture := setupTestHandlers(t, fiveRuns()...)

	rec := do(h.DeleteSelected, http.MethodPost, "/api/runs/delete", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decode[DeleteResponse](t, rec).Deleted)
	assert.Empty(t, fixture.API.DeleteRequests)
}

// =============================================================================
// Errors
// =============================================================================

func TestTableErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"closed table", runtable.ErrClosed, http.StatusGone},
		{"no session", session.ErrNoSession, http.StatusInternalServerError},
		{"not found", core.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandlers(features.StaticTables{Err: tt.err}, nil, false)

			rec := do(h.Snapshot, http.MethodGet, "/api/runs/", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.err.Error(), decode[errorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// RunsPageUpdates Tests - SSE endpoint for live updates only
// =============================================================================

func TestRunsPageUpdates_SendsUpdateOnChange(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	req := httptest.NewRequest(http.MethodGet, "/api/runs/updates", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 300*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.RunsPageUpdates(rec, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	tbl.Select("p1::r2")
	<-done

	body := rec.Body.String()
	assert.GreaterOrEqual(t, strings.Count(body, "event:"), 2, "element and signal patches")
	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, "datastar-patch-signals")
	assert.Contains(t, body, "runs-table")
	assert.Contains(t, body, "p1::r2")
}

func TestRunsPageUpdates_NoInitialState(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t, fiveRuns()...)
	require.NoError(t, tbl.LoadNextPage(context.Background()))
	// Let the change notification of the page load drain first.
	time.Sleep(20 * time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/updates", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()

	h.RunsPageUpdates(rec, req)

	assert.Equal(t, 0, strings.Count(rec.Body.String(), "event:"), "should have no SSE events without a change")
}

func TestRunsPageUpdates_EndsWhenTableCloses(t *testing.T) {
	h, tbl, _ := setupTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/updates", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.RunsPageUpdates(rec, req)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	tbl.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("updates stream did not end after the table closed")
	}
}
