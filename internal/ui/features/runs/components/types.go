// Package components renders the run table views of the web UI.
package components

import "github.com/leapstack-labs/runboard/pkg/core"

// TableView is everything the run table fragment renders.
type TableView struct {
	Columns  []ColumnView
	Rows     []RowView
	Total    int
	HasMore  bool
	Loading  bool
	Polling  bool
	Error    string
	Selected int
	Filters  core.FilterValues
}

// ColumnView is one table header.
type ColumnView struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// RowView is one rendered run.
type RowView struct {
	Key      string     `json:"key"`
	RunID    string     `json:"runId"`
	Status   string     `json:"status,omitempty"`
	Selected bool       `json:"selected"`
	Skeleton bool       `json:"skeleton,omitempty"`
	Cells    []CellView `json:"cells"`
}

// CellView is one rendered cell.
type CellView struct {
	Text    string `json:"text"`
	Loading bool   `json:"loading,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
}

// Signals are the datastar signals shared with the page.
type Signals struct {
	Search    string   `json:"search"`
	Status    []string `json:"status"`
	Selection []string `json:"selection"`
	Total     int      `json:"total"`
	HasMore   bool     `json:"hasMore"`
	Polling   bool     `json:"polling"`
}
