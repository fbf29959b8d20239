package rowload

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// Value is what a cell renders: the last known value plus its freshness.
// Value is nil while nothing has resolved yet. Err is the last fetch error;
// callers render a placeholder for it rather than failing the row.
type Value[T any] struct {
	Value   T
	Stale   bool
	Loading bool
	Err     error
}

// fetchState tracks one kind of fetch for one row. A failed fetch is not
// restarted until the row is marked stale or mounted again.
type fetchState struct {
	loading bool
	fresh   bool
	failed  bool
	err     error
}

// RowContext is shared by every cell of one row, so the row issues at most
// one summary and one detail fetch at a time.
type RowContext struct {
	loader *Loader
	ref    core.RunRef

	mu      sync.Mutex
	summary fetchState
	detail  fetchState
}

// Ref returns the row's run reference.
func (rc *RowContext) Ref() core.RunRef {
	return rc.ref
}

// EnsureSummary starts a background summary fetch unless one is running, a
// fresh value is present or the last fetch failed. The fetch is not
// cancelled with ctx.
func (rc *RowContext) EnsureSummary(ctx context.Context) {
	if !rc.begin(&rc.summary) {
		return
	}
	go func() {
		_, err := rc.loader.Summary(context.WithoutCancel(ctx), rc.ref)
		rc.finish(&rc.summary, err)
	}()
}

// EnsureDetail starts a background detail fetch, like EnsureSummary.
func (rc *RowContext) EnsureDetail(ctx context.Context) {
	if !rc.begin(&rc.detail) {
		return
	}
	go func() {
		_, err := rc.loader.Detail(context.WithoutCancel(ctx), rc.ref)
		rc.finish(&rc.detail, err)
	}()
}

// Summary returns the row summary as currently known.
func (rc *RowContext) Summary() Value[*core.RunSummary] {
	v, ok := rc.loader.CachedSummary(rc.ref)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Value[*core.RunSummary]{
		Value:   v,
		Stale:   ok && !rc.summary.fresh,
		Loading: rc.summary.loading,
		Err:     rc.summary.err,
	}
}

// Detail returns the row detail as currently known.
func (rc *RowContext) Detail() Value[*core.RunDetail] {
	v, ok := rc.loader.CachedDetail(rc.ref)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Value[*core.RunDetail]{
		Value:   v,
		Stale:   ok && !rc.detail.fresh,
		Loading: rc.detail.loading,
		Err:     rc.detail.err,
	}
}

func (rc *RowContext) begin(s *fetchState) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if s.loading || s.fresh || s.failed {
		return false
	}
	s.loading = true
	return true
}

func (rc *RowContext) finish(s *fetchState, err error) {
	rc.mu.Lock()
	s.loading = false
	s.err = err
	s.fresh = err == nil
	s.failed = err != nil
	rc.mu.Unlock()

	if err != nil {
		rc.loader.logger.Debug("row fetch failed",
			slog.String("run", rc.ref.RunID),
			slog.String("error", err.Error()))
	}
	rc.loader.notify(rc.ref)
}

func (rc *RowContext) markStale() {
	rc.mu.Lock()
	rc.summary.fresh, rc.summary.failed = false, false
	rc.detail.fresh, rc.detail.failed = false, false
	rc.mu.Unlock()
}
