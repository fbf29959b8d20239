// Package metricstats loads per-run metric statistics and evaluator output
// types for the metric columns of a run table.
package metricstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/runboard/internal/cache"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// refetchConcurrency bounds parallel requests during Refetch and Probe.
const refetchConcurrency = 8

// Request identifies the statistics of one metric of one run.
type Request struct {
	RunID      string `json:"runId"`
	MetricKey  string `json:"metricKey,omitempty"`
	MetricPath string `json:"metricPath,omitempty"`
	StepKey    string `json:"stepKey,omitempty"`
}

// ID returns the cache id of the request.
func (r Request) ID() string {
	metric := r.MetricPath
	if metric == "" {
		metric = r.MetricKey
	}
	return r.RunID + "|" + metric + "|" + r.StepKey
}

// Result is a resolved statistics lookup. Unavailable means the backend has
// no statistics for the metric; Stats is nil then.
type Result struct {
	Request     Request
	Stats       *core.BasicStats
	Unavailable bool
}

// Loader fetches and caches metric statistics per project.
type Loader struct {
	api    core.RunsAPI
	cache  *cache.Scoped[Result]
	group  singleflight.Group
	logger *slog.Logger
}

// NewLoader returns a Loader backed by c. A nil cache gets a default one.
func NewLoader(api core.RunsAPI, c *cache.Scoped[Result], logger *slog.Logger) *Loader {
	if c == nil {
		c = cache.New[Result](0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{api: api, cache: c, logger: logger}
}

// Stats returns the statistics of req, from cache when present.
func (l *Loader) Stats(ctx context.Context, projectID string, req Request) (Result, error) {
	if r, ok := l.cache.Get(projectID, req.ID()); ok {
		return r, nil
	}
	return l.fetch(ctx, projectID, req)
}

// Cached returns the cached statistics of req without fetching.
func (l *Loader) Cached(projectID string, req Request) (Result, bool) {
	return l.cache.Get(projectID, req.ID())
}

func (l *Loader) fetch(ctx context.Context, projectID string, req Request) (Result, error) {
	v, err, _ := l.group.Do(projectID+"::"+req.ID(), func() (any, error) {
		stats, err := l.api.GetMetricStats(ctx, core.MetricStatsRequest{
			ProjectID:  projectID,
			RunID:      req.RunID,
			MetricKey:  req.MetricKey,
			MetricPath: req.MetricPath,
			StepKey:    req.StepKey,
		})
		res := Result{Request: req}
		switch {
		case errors.Is(err, core.ErrUnavailable):
			res.Unavailable = true
		case err != nil:
			return nil, err
		default:
			res.Stats = stats
		}
		l.cache.Set(projectID, req.ID(), res)
		return res, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("metric stats for run %s: %w", req.RunID, err)
	}
	return v.(Result), nil
}

// Refetch re-requests every cached statistic of projectID whose run is in
// runIDs, or all of them when runIDs is nil. Cached values stay visible
// until their replacement arrives. Failed requests keep the old value.
func (l *Loader) Refetch(ctx context.Context, projectID string, runIDs []string) error {
	var reqs []Request
	for _, id := range l.cache.IDs(projectID) {
		r, ok := l.cache.Get(projectID, id)
		if !ok {
			continue
		}
		if runIDs != nil && !slices.Contains(runIDs, r.Request.RunID) {
			continue
		}
		reqs = append(reqs, r.Request)
	}
	if len(reqs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refetchConcurrency)
	for _, req := range reqs {
		g.Go(func() error {
			_, err := l.fetch(gctx, projectID, req)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refetch metric stats: %w", err)
	}
	l.logger.Debug("metric stats refetched",
		slog.String("project", projectID),
		slog.Int("count", len(reqs)))
	return nil
}

// InvalidateScope drops every cached statistic of projectID.
func (l *Loader) InvalidateScope(projectID string) {
	l.cache.InvalidateScope(projectID)
}
