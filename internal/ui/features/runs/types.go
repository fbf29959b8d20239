// Package runs serves the run table of the web UI.
package runs

import (
	"net/http"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// TableSource resolves the run table of a request's session.
type TableSource interface {
	Table(r *http.Request) (*runtable.Table, error)
}

// FiltersResponse is the filter state of a table.
type FiltersResponse struct {
	Applied  core.FilterValues `json:"applied"`
	Draft    core.FilterValues `json:"draft"`
	HasDraft bool              `json:"hasDraft"`
	Locked   core.FilterValues `json:"locked"`
	Version  uint64            `json:"version"`
	Key      string            `json:"key"`
}

// FiltersChange reports the outcome of a filter write.
type FiltersChange struct {
	Changed bool   `json:"changed"`
	Version uint64 `json:"version"`
}

// SelectionSignals is the signal payload of a bulk selection update.
type SelectionSignals struct {
	Selection []string `json:"selection"`
}

// DeleteResponse reports a bulk delete.
type DeleteResponse struct {
	Deleted int `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}
