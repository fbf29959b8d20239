package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// RunQuery is the meta carried by every run page request.
type RunQuery struct {
	ProjectID string
	AppIDs    []string
	Kind      core.EvaluationKind
	Filters   core.FilterValues
}

// RunStore is the dataset store specialised for evaluation runs.
type RunStore = Store[core.RunRow, core.APIRun, RunQuery]

// RunPagination is the pagination of one run scope.
type RunPagination = Pagination[core.RunRow, core.APIRun, RunQuery]

// NewRunStore returns a store that lists runs through api.
func NewRunStore(api core.RunsAPI, cfg Config[core.RunRow, core.APIRun, RunQuery]) (*RunStore, error) {
	cfg.FetchPage = FetchRuns(api)
	cfg.CreateSkeleton = CreateRunSkeleton
	cfg.Merge = MergeRunRow
	return New(cfg)
}

// RunKey returns the row key of a resolved run.
func RunKey(projectID, runID string) string {
	if projectID == "" {
		return runID
	}
	return projectID + "::" + runID
}

// SkeletonKey returns the deterministic key of a skeleton row.
func SkeletonKey(req SkeletonRequest) string {
	return fmt.Sprintf("%s::skeleton-run-%d-%s", req.ScopeID, req.Offset+req.Index+1, req.RowKey)
}

// IsSkeletonKey reports whether key was produced by SkeletonKey.
func IsSkeletonKey(key string) bool {
	return strings.Contains(key, "::skeleton-run-")
}

// CreateRunSkeleton returns a placeholder run row.
func CreateRunSkeleton(req SkeletonRequest) core.RunRow {
	return core.RunRow{
		Key:        SkeletonKey(req),
		IsSkeleton: true,
	}
}

// MergeRunRow overlays the fields present on apiRow onto skeleton. Absent
// (zero) fields keep the skeleton's value. The result is never a skeleton,
// and merging the same apiRow twice gives the same row.
func MergeRunRow(skeleton core.RunRow, apiRow core.APIRun) core.RunRow {
	out := skeleton
	if apiRow.ID != "" {
		out.RunID = apiRow.ID
	}
	if apiRow.ProjectID != "" {
		out.ProjectID = apiRow.ProjectID
	}
	if apiRow.Source != "" {
		out.Source = apiRow.Source
	}
	if apiRow.AppID != "" {
		out.AppID = apiRow.AppID
	}
	if apiRow.Name != "" {
		out.Name = apiRow.Name
	}
	if apiRow.EvaluationKind != "" {
		out.EvaluationKind = apiRow.EvaluationKind
	}
	if apiRow.Status != "" {
		out.Status = apiRow.Status
	}
	if !apiRow.CreatedAt.IsZero() {
		out.CreatedAt = apiRow.CreatedAt
	}
	if apiRow.CreatedByID != "" {
		out.CreatedByID = apiRow.CreatedByID
	}
	if apiRow.PreviewMeta != nil {
		out.PreviewMeta = apiRow.PreviewMeta
	}

	switch {
	case apiRow.Key != "":
		out.Key = apiRow.Key
	case out.RunID != "":
		out.Key = RunKey(out.ProjectID, out.RunID)
	}
	out.IsSkeleton = false
	return out
}

// FetchRuns adapts api.ListRuns to a FetchFunc. Without a project id it
// returns an empty, resolved page and issues no request.
func FetchRuns(api core.RunsAPI) FetchFunc[core.APIRun, RunQuery] {
	return func(ctx context.Context, req PageRequest[RunQuery]) (PageResult[core.APIRun], error) {
		q := req.Meta
		if q.ProjectID == "" {
			return PageResult[core.APIRun]{}, nil
		}

		f := q.Filters
		resp, err := api.ListRuns(ctx, core.ListRunsRequest{
			ProjectID:             q.ProjectID,
			AppIDs:                q.AppIDs,
			Kind:                  q.Kind,
			Limit:                 req.Limit,
			Cursor:                req.Cursor,
			Windowing:             req.Windowing,
			Search:                f.Search,
			Flags:                 f.Flags,
			StatusFilters:         f.StatusFilters,
			ReferenceFilters:      f.ReferenceFilters,
			EvaluationTypeFilters: f.EvaluationTypeFilters,
			DateRange:             f.DateRange,
		})
		if err != nil {
			return PageResult[core.APIRun]{}, fmt.Errorf("list runs: %w", err)
		}

		rows := resp.Rows
		for i := range rows {
			if rows[i].ProjectID == "" {
				rows[i].ProjectID = q.ProjectID
			}
		}

		return PageResult[core.APIRun]{
			Rows:          rows,
			TotalCount:    resp.TotalCount,
			HasMore:       resp.HasMore,
			NextOffset:    req.Offset + len(rows),
			NextCursor:    resp.NextCursor,
			NextWindowing: resp.NextWindowing,
		}, nil
	}
}
