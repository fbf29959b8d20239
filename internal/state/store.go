// Package state persists runboard's local state in SQLite: the applied
// filters of every table scope, and the table sessions of the web UI.
package state

import (
	"errors"
	"time"

	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// ErrSessionNotFound is returned for unknown table session ids.
var ErrSessionNotFound = errors.New("table session not found")

// SavedFilters is the stored filter meta of one scope.
type SavedFilters struct {
	ScopeKey  string       `json:"scopeKey" yaml:"scope_key"`
	Meta      filters.Meta `json:"meta" yaml:"meta"`
	UpdatedAt time.Time    `json:"updatedAt" yaml:"updated_at"`
}

// Session binds a web UI session to the scope of its table.
type Session struct {
	ID         string              `json:"id"`
	ProjectID  string              `json:"projectId"`
	AppIDs     []string            `json:"appIds,omitempty"`
	Kind       core.EvaluationKind `json:"kind"`
	CreatedAt  time.Time           `json:"createdAt"`
	LastSeenAt time.Time           `json:"lastSeenAt"`
}

var _ filters.Persister = (*SQLiteStore)(nil)
