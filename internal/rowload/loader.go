// Package rowload fetches per-row run summaries and details on demand.
//
// Concurrent requests for the same row share one fetch. Resolved values are
// kept in scope-keyed caches that outlive the row's visibility, so a row that
// scrolls away and back shows its last value while a fresh fetch runs.
package rowload

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/runboard/internal/cache"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Config configures a Loader. Nil caches are created with cache.DefaultSize.
type Config struct {
	API       core.RunsAPI
	Summaries *cache.Scoped[*core.RunSummary]
	Details   *cache.Scoped[*core.RunDetail]

	// OnChange is called after a row's summary or detail settles.
	OnChange func(ref core.RunRef)

	Logger *slog.Logger
}

// Loader loads summaries and details keyed by project and run id.
type Loader struct {
	api       core.RunsAPI
	summaries *cache.Scoped[*core.RunSummary]
	details   *cache.Scoped[*core.RunDetail]
	contexts  *cache.Scoped[*RowContext]
	group     singleflight.Group
	onChange  func(ref core.RunRef)
	logger    *slog.Logger
}

// New returns a Loader.
func New(cfg Config) *Loader {
	if cfg.Summaries == nil {
		cfg.Summaries = cache.New[*core.RunSummary](0)
	}
	if cfg.Details == nil {
		cfg.Details = cache.New[*core.RunDetail](0)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{
		api:       cfg.API,
		summaries: cfg.Summaries,
		details:   cfg.Details,
		contexts:  cache.New[*RowContext](0),
		onChange:  cfg.OnChange,
		logger:    cfg.Logger,
	}
}

// Summary fetches the summary of ref. Concurrent calls for the same row
// share one request. The result is cached on success.
func (l *Loader) Summary(ctx context.Context, ref core.RunRef) (*core.RunSummary, error) {
	v, err, _ := l.group.Do("summary:"+key(ref), func() (any, error) {
		s, err := l.api.GetRunSummary(ctx, ref)
		if err != nil {
			return nil, err
		}
		l.summaries.Set(ref.ProjectID, ref.RunID, s)
		return s, nil
	})
	if err != nil {
		return nil, fmt.Errorf("run %s summary: %w", ref.RunID, err)
	}
	return v.(*core.RunSummary), nil
}

// Detail fetches the full record of ref, sharing concurrent requests.
func (l *Loader) Detail(ctx context.Context, ref core.RunRef) (*core.RunDetail, error) {
	v, err, _ := l.group.Do("detail:"+key(ref), func() (any, error) {
		d, err := l.api.GetRunDetail(ctx, ref.RunID)
		if err != nil {
			return nil, err
		}
		l.details.Set(ref.ProjectID, ref.RunID, d)
		return d, nil
	})
	if err != nil {
		return nil, fmt.Errorf("run %s detail: %w", ref.RunID, err)
	}
	return v.(*core.RunDetail), nil
}

// CachedSummary returns the last resolved summary of ref.
func (l *Loader) CachedSummary(ref core.RunRef) (*core.RunSummary, bool) {
	return l.summaries.Get(ref.ProjectID, ref.RunID)
}

// CachedDetail returns the last resolved detail of ref.
func (l *Loader) CachedDetail(ref core.RunRef) (*core.RunDetail, bool) {
	return l.details.Get(ref.ProjectID, ref.RunID)
}

// Mount returns the context of a visible row, creating it on first use.
func (l *Loader) Mount(ref core.RunRef) *RowContext {
	if rc, ok := l.contexts.Get(ref.ProjectID, ref.RunID); ok {
		return rc
	}
	rc := &RowContext{loader: l, ref: ref}
	l.contexts.Set(ref.ProjectID, ref.RunID, rc)
	return rc
}

// Unmount forgets the context of a row that left the viewport. Cached
// values are kept.
func (l *Loader) Unmount(ref core.RunRef) {
	l.contexts.Invalidate(ref.ProjectID, ref.RunID)
}

// Invalidate drops everything cached for one row.
func (l *Loader) Invalidate(ref core.RunRef) {
	l.summaries.Invalidate(ref.ProjectID, ref.RunID)
	l.details.Invalidate(ref.ProjectID, ref.RunID)
	l.contexts.Invalidate(ref.ProjectID, ref.RunID)
}

// InvalidateScope drops everything cached for a project.
func (l *Loader) InvalidateScope(projectID string) {
	n := l.summaries.InvalidateScope(projectID)
	n += l.details.InvalidateScope(projectID)
	l.contexts.InvalidateScope(projectID)
	l.logger.Debug("row caches invalidated",
		slog.String("project", projectID),
		slog.Int("entries", n))
}

// MarkStale flags every mounted row of a project for refetch on next Ensure,
// including rows whose last fetch failed.
func (l *Loader) MarkStale(projectID string) {
	for _, id := range l.contexts.IDs(projectID) {
		if rc, ok := l.contexts.Get(projectID, id); ok {
			rc.markStale()
		}
	}
}

func (l *Loader) notify(ref core.RunRef) {
	if l.onChange != nil {
		l.onChange(ref)
	}
}

func key(ref core.RunRef) string {
	return ref.ProjectID + "::" + ref.RunID
}
