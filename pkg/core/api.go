package core

import (
	"context"
	"errors"
)

// Sentinel errors shared by RunsAPI implementations.
var (
	// ErrNotFound is returned when the requested run or entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when a metric has no statistics for a run.
	ErrUnavailable = errors.New("metric statistics unavailable")
)

// Window orderings.
const (
	OrderDescending = "descending"
	OrderAscending  = "ascending"
)

// Windowing is the cursor-pagination descriptor of the listing endpoint.
//
// The first request carries no cursor. Every response returns a descriptor
// whose Next is an opaque cursor for the following page and whose Stop pins
// the upper bound of the snapshot taken by the first page, so runs created
// while scrolling never shift later pages. Clients echo the descriptor back
// unchanged, replacing only Limit. An empty Next means there are no more pages.
type Windowing struct {
	Next  string `json:"next,omitempty"`
	Stop  string `json:"stop,omitempty"`
	Order string `json:"order,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// ListRunsRequest queries one window of runs.
type ListRunsRequest struct {
	ProjectID             string                     `json:"project_id"`
	AppIDs                []string                   `json:"app_ids,omitempty"`
	Kind                  EvaluationKind             `json:"kind,omitempty"`
	Limit                 int                        `json:"limit"`
	Cursor                string                     `json:"cursor,omitempty"`
	Windowing             *Windowing                 `json:"windowing,omitempty"`
	Search                string                     `json:"search,omitempty"`
	Flags                 map[string]bool            `json:"flags,omitempty"`
	StatusFilters         []string                   `json:"statuses,omitempty"`
	ReferenceFilters      map[ReferenceRole][]string `json:"references,omitempty"`
	EvaluationTypeFilters []string                   `json:"evaluation_types,omitempty"`
	DateRange             *DateRange                 `json:"date_range,omitempty"`
}

// ListRunsResponse is one window of runs.
type ListRunsResponse struct {
	Rows          []APIRun   `json:"runs"`
	TotalCount    int        `json:"count"`
	HasMore       bool       `json:"has_more"`
	NextCursor    string     `json:"next_cursor,omitempty"`
	NextWindowing *Windowing `json:"windowing,omitempty"`
}

// RunRef identifies one run within a project.
type RunRef struct {
	ProjectID string `json:"project_id"`
	RunID     string `json:"run_id"`
}

// MetricStatsRequest asks for statistics of one metric of one run.
// MetricKey and MetricPath are alternatives; StepKey narrows to one step.
type MetricStatsRequest struct {
	ProjectID  string `json:"project_id"`
	RunID      string `json:"run_id"`
	MetricKey  string `json:"metric_key,omitempty"`
	MetricPath string `json:"metric_path,omitempty"`
	StepKey    string `json:"step_key,omitempty"`
}

// DeleteRunsRequest deletes runs in bulk.
type DeleteRunsRequest struct {
	Kind      EvaluationKind `json:"kind"`
	ProjectID string         `json:"project_id"`
	RunIDs    []string       `json:"run_ids"`
}

// OutputTypeRequest probes the declared output type of an evaluator metric.
type OutputTypeRequest struct {
	ProjectID     string `json:"project_id"`
	EvaluatorSlug string `json:"evaluator_slug"`
	MetricPath    string `json:"metric_path"`
}

// LabelRequest resolves the display label of a referenced entity.
type LabelRequest struct {
	ProjectID string        `json:"project_id"`
	Role      ReferenceRole `json:"role"`
	ID        string        `json:"id"`
}

// RunsAPI is the backend surface the run table depends on.
type RunsAPI interface {
	ListRuns(ctx context.Context, req ListRunsRequest) (*ListRunsResponse, error)
	GetRunSummary(ctx context.Context, ref RunRef) (*RunSummary, error)
	GetRunDetail(ctx context.Context, runID string) (*RunDetail, error)
	GetMetricStats(ctx context.Context, req MetricStatsRequest) (*BasicStats, error)
	DeleteRuns(ctx context.Context, req DeleteRunsRequest) error
	ProbeOutputType(ctx context.Context, req OutputTypeRequest) (string, error)
	GetReferenceLabel(ctx context.Context, req LabelRequest) (string, error)
}
