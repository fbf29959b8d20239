package components

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"slices"
	"strings"

	"github.com/a-h/templ"

	"github.com/leapstack-labs/runboard/internal/ui/resources"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// DatastarURL is the datastar client bundle the page loads.
const DatastarURL = "https://cdn.jsdelivr.net/gh/starfederation/datastar@1.0.0-RC.6/bundles/datastar.js"

// TableID is the element id patched by table updates.
const TableID = "runs-table"

// statusOptions are offered in the status filter.
var statusOptions = []core.RunStatus{
	core.RunStatusRunning,
	core.RunStatusPending,
	core.RunStatusSuccess,
	core.RunStatusFailure,
	core.RunStatusErrors,
	core.RunStatusCancelled,
}

type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) raw(s string) {
	if h.err == nil {
		_, h.err = io.WriteString(h.w, s)
	}
}

func (h *htmlWriter) text(s string) {
	h.raw(templ.EscapeString(s))
}

func (h *htmlWriter) rawf(format string, args ...any) {
	h.raw(fmt.Sprintf(format, args...))
}

// Page renders the full runs page. The table is server-rendered so the
// first paint needs no round trip; later changes arrive over /api/runs/updates.
func Page(title string, isDev bool, view TableView, signals Signals) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		sig, err := json.Marshal(signals)
		if err != nil {
			return err
		}
		h := &htmlWriter{w: w}
		h.raw(`<!doctype html><html lang="en"><head><meta charset="utf-8">`)
		h.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		h.raw(`<title>`)
		h.text(title)
		h.raw(` - Runboard</title>`)
		h.raw(`<link rel="stylesheet" href="` + resources.StaticPath("runboard.css") + `">`)
		h.raw(`<script type="module" src="` + DatastarURL + `"></script>`)
		h.raw(`<script defer src="` + resources.StaticPath("runboard.js") + `"></script></head>`)
		h.raw(`<body data-signals="`)
		h.text(string(sig))
		h.raw(`" data-init="@get('/api/runs/updates')">`)
		if isDev {
			h.raw(`<div hidden data-init="@get('/reload')"></div>`)
		}
		h.raw(`<header class="rb-header"><h1>`)
		h.text(title)
		h.raw(`</h1>`)
		if h.err != nil {
			return h.err
		}
		if err := FilterBar(view.Filters).Render(ctx, w); err != nil {
			return err
		}
		h.raw(`</header><main>`)
		if h.err != nil {
			return h.err
		}
		if err := Table(view).Render(ctx, w); err != nil {
			return err
		}
		h.raw(`</main></body></html>`)
		return h.err
	})
}

// FilterBar renders the search box and status toggles bound to signals.
func FilterBar(f core.FilterValues) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.raw(`<form class="rb-filters" data-on:submit="@put('/api/runs/filters')">`)
		h.raw(`<input type="search" name="search" placeholder="Search runs" data-bind:search value="`)
		h.text(f.Search)
		h.raw(`">`)
		for _, s := range statusOptions {
			h.raw(`<label class="rb-status rb-status-`)
			h.text(string(s))
			h.raw(`"><input type="checkbox" data-bind:status value="`)
			h.text(string(s))
			h.raw(`"`)
			if slices.Contains(f.StatusFilters, string(s)) {
				h.raw(` checked`)
			}
			h.raw(`>`)
			h.text(string(s))
			h.raw(`</label>`)
		}
		h.raw(`<button type="submit">Apply</button>`)
		h.raw(`<button type="button" data-on:click="@post('/api/runs/refetch')">Refresh</button>`)
		h.raw(`</form>`)
		return h.err
	})
}

// Table renders the run table fragment with id TableID.
func Table(v TableView) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		h := &htmlWriter{w: w}
		h.rawf(`<section id="%s" class="rb-table">`, TableID)
		if v.Error != "" {
			h.raw(`<p class="rb-error" role="alert">`)
			h.text(v.Error)
			h.raw(`</p>`)
		}

		h.raw(`<div class="rb-toolbar"><span class="rb-count">`)
		h.text(countLabel(v))
		h.raw(`</span>`)
		if v.Polling {
			h.raw(`<span class="rb-live" title="Refreshing running evaluations">live</span>`)
		}
		if v.Selected > 0 {
			h.rawf(`<button type="button" class="rb-danger" data-on:click="confirm('Delete %d runs?') &amp;&amp; @post('/api/runs/delete')">Delete selected</button>`, v.Selected)
		}
		h.raw(`<a href="/api/runs/export" download>Export CSV</a></div>`)

		h.raw(`<table><thead><tr><th></th>`)
		for _, c := range v.Columns {
			h.raw(`<th data-column="`)
			h.text(c.ID)
			h.raw(`">`)
			h.text(c.Label)
			h.raw(`</th>`)
		}
		h.raw(`</tr></thead><tbody>`)
		if len(v.Rows) == 0 && !v.Loading {
			h.rawf(`<tr><td class="rb-empty" colspan="%d">No runs</td></tr>`, len(v.Columns)+1)
		}
		for _, r := range v.Rows {
			row(h, r)
		}
		h.raw(`</tbody></table>`)

		if v.HasMore {
			h.raw(`<button type="button" class="rb-more" data-on:click="@post('/api/runs/next')"`)
			if v.Loading {
				h.raw(` disabled`)
			}
			h.raw(`>Load more</button>`)
		}
		h.raw(`</section>`)
		return h.err
	})
}

func row(h *htmlWriter, r RowView) {
	classes := []string{"rb-row"}
	if r.Skeleton {
		classes = append(classes, "rb-skeleton")
	}
	if r.Selected {
		classes = append(classes, "rb-selected")
	}
	h.raw(`<tr class="`)
	h.text(strings.Join(classes, " "))
	h.raw(`" data-key="`)
	h.text(r.Key)
	h.raw(`"><td>`)
	if !r.Skeleton {
		h.raw(`<input type="checkbox" data-on:change="@post('/api/runs/selection?action=toggle&amp;key=`)
		h.text(url.QueryEscape(r.Key))
		h.raw(`')"`)
		if r.Selected {
			h.raw(` checked`)
		}
		h.raw(`>`)
	}
	h.raw(`</td>`)
	for _, c := range r.Cells {
		switch {
		case c.Loading:
			h.raw(`<td class="rb-loading">`)
		case c.Stale:
			h.raw(`<td class="rb-stale">`)
		default:
			h.raw(`<td>`)
		}
		h.text(c.Text)
		h.raw(`</td>`)
	}
	h.raw(`</tr>`)
}

func countLabel(v TableView) string {
	loaded := 0
	for _, r := range v.Rows {
		if !r.Skeleton {
			loaded++
		}
	}
	switch {
	case v.Loading && loaded == 0:
		return "Loading…"
	case v.HasMore:
		return fmt.Sprintf("%d of %d runs", loaded, v.Total)
	default:
		return fmt.Sprintf("%d runs", loaded)
	}
}
