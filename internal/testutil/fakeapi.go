package testutil

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// FakeAPI is an in-memory core.RunsAPI. Listing pages through Runs using the
// decimal offset as cursor and counts every call by method name.
type FakeAPI struct {
	mu sync.Mutex

	Runs        []core.APIRun
	Summaries   map[string]*core.RunSummary
	Details     map[string]*core.RunDetail
	Stats       map[string]*core.BasicStats
	OutputTypes map[string]string
	Labels      map[string]string

	ListErr    error
	SummaryErr error
	DetailErr  error
	StatsErr   error
	LabelErr   error
	DeleteErr  error

	// BeforeList, when set, runs before ListRuns answers. Tests block in it
	// to hold a page in flight.
	BeforeList func(ctx context.Context, req core.ListRunsRequest)

	// BeforeSummary, when set, runs before GetRunSummary answers.
	BeforeSummary func(ctx context.Context, ref core.RunRef)

	ListRequests   []core.ListRunsRequest
	DeleteRequests []core.DeleteRunsRequest

	calls map[string]int
}

// NewFakeAPI returns a FakeAPI serving runs.
func NewFakeAPI(runs ...core.APIRun) *FakeAPI {
	return &FakeAPI{
		Runs:        runs,
		Summaries:   make(map[string]*core.RunSummary),
		Details:     make(map[string]*core.RunDetail),
		Stats:       make(map[string]*core.BasicStats),
		OutputTypes: make(map[string]string),
		Labels:      make(map[string]string),
		calls:       make(map[string]int),
	}
}

// StatsKey is the key of FakeAPI.Stats for a request.
func StatsKey(runID, metricPath, stepKey string) string {
	return runID + "|" + metricPath + "|" + stepKey
}

// OutputTypeKey is the key of FakeAPI.OutputTypes.
func OutputTypeKey(slug, metricPath string) string {
	return slug + "|" + metricPath
}

// LabelKey is the key of FakeAPI.Labels.
func LabelKey(role core.ReferenceRole, id string) string {
	return string(role) + "/" + id
}

// Calls returns how many times method was called.
func (f *FakeAPI) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// SetRuns replaces the served runs.
func (f *FakeAPI) SetRuns(runs ...core.APIRun) {
	f.mu.Lock()
	f.Runs = runs
	f.mu.Unlock()
}

// SetStatus updates the status of one served run.
func (f *FakeAPI) SetStatus(runID string, status core.RunStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.Runs {
		if f.Runs[i].ID == runID {
			f.Runs[i].Status = status
		}
	}
}

func (f *FakeAPI) record(method string) {
	f.mu.Lock()
	f.calls[method]++
	f.mu.Unlock()
}

// ListRuns implements core.RunsAPI.
func (f *FakeAPI) ListRuns(ctx context.Context, req core.ListRunsRequest) (*core.ListRunsResponse, error) {
	f.mu.Lock()
	f.calls["ListRuns"]++
	f.ListRequests = append(f.ListRequests, req)
	hook := f.BeforeList
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ListErr != nil {
		return nil, f.ListErr
	}

	var matched []core.APIRun
	for _, r := range f.Runs {
		if len(req.StatusFilters) > 0 && !slices.Contains(req.StatusFilters, string(r.Status)) {
			continue
		}
		matched = append(matched, r)
	}

	cursor := req.Cursor
	if req.Windowing != nil && req.Windowing.Next != "" {
		cursor = req.Windowing.Next
	}
	offset, _ := strconv.Atoi(cursor)
	offset = min(offset, len(matched))
	limit := req.Limit
	if limit <= 0 {
		limit = len(matched)
	}
	end := min(offset+limit, len(matched))

	resp := &core.ListRunsResponse{
		Rows:       append([]core.APIRun(nil), matched[offset:end]...),
		TotalCount: len(matched),
		HasMore:    end < len(matched),
	}
	stop := strconv.Itoa(len(matched))
	if req.Windowing != nil && req.Windowing.Stop != "" {
		stop = req.Windowing.Stop
	}
	w := &core.Windowing{Stop: stop, Order: core.OrderDescending, Limit: limit}
	if resp.HasMore {
		resp.NextCursor = strconv.Itoa(end)
		w.Next = resp.NextCursor
	}
	resp.NextWindowing = w
	return resp, nil
}

// GetRunSummary implements core.RunsAPI.
func (f *FakeAPI) GetRunSummary(ctx context.Context, ref core.RunRef) (*core.RunSummary, error) {
	f.record("GetRunSummary")

	f.mu.Lock()
	hook := f.BeforeSummary
	f.mu.Unlock()
	if hook != nil {
		hook(ctx, ref)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SummaryErr != nil {
		return nil, f.SummaryErr
	}
	s, ok := f.Summaries[ref.RunID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *s
	return &out, nil
}

// GetRunDetail implements core.RunsAPI.
func (f *FakeAPI) GetRunDetail(_ context.Context, runID string) (*core.RunDetail, error) {
	f.record("GetRunDetail")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DetailErr != nil {
		return nil, f.DetailErr
	}
	d, ok := f.Details[runID]
	if !ok {
		return nil, core.ErrNotFound
	}
	out := *d
	return &out, nil
}

// GetMetricStats implements core.RunsAPI.
func (f *FakeAPI) GetMetricStats(_ context.Context, req core.MetricStatsRequest) (*core.BasicStats, error) {
	f.record("GetMetricStats")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StatsErr != nil {
		return nil, f.StatsErr
	}
	path := req.MetricPath
	if path == "" {
		path = req.MetricKey
	}
	s, ok := f.Stats[StatsKey(req.RunID, path, req.StepKey)]
	if !ok {
		return nil, core.ErrUnavailable
	}
	out := *s
	return &out, nil
}

// DeleteRuns implements core.RunsAPI.
func (f *FakeAPI) DeleteRuns(_ context.Context, req core.DeleteRunsRequest) error {
	f.record("DeleteRuns")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.DeleteRequests = append(f.DeleteRequests, req)
	f.Runs = slices.DeleteFunc(f.Runs, func(r core.APIRun) bool {
		return slices.Contains(req.RunIDs, r.ID)
	})
	return nil
}

// ProbeOutputType implements core.RunsAPI.
func (f *FakeAPI) ProbeOutputType(_ context.Context, req core.OutputTypeRequest) (string, error) {
	f.record("ProbeOutputType")

	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.OutputTypes[OutputTypeKey(req.EvaluatorSlug, req.MetricPath)]
	if !ok {
		return "", core.ErrNotFound
	}
	return t, nil
}

// GetReferenceLabel implements core.RunsAPI.
func (f *FakeAPI) GetReferenceLabel(_ context.Context, req core.LabelRequest) (string, error) {
	f.record("GetReferenceLabel")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LabelErr != nil {
		return "", f.LabelErr
	}
	l, ok := f.Labels[LabelKey(req.Role, req.ID)]
	if !ok {
		return "", core.ErrNotFound
	}
	return l, nil
}

var _ core.RunsAPI = (*FakeAPI)(nil)
