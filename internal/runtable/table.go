// Package runtable is the per-instance state container of one run listing
// table. It ties the filter state, the windowed dataset, the column
// blueprints, the per-row and metric loaders, selection and live polling
// together, and pings subscribers after every change.
//
// Nothing in a Table is shared with another Table except the caches and
// the applied filters of the registry passed in through Config, which are
// keyed by scope. Selection and the filter draft belong to one table.
package runtable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/leapstack-labs/runboard/internal/blueprint"
	"github.com/leapstack-labs/runboard/internal/cache"
	"github.com/leapstack-labs/runboard/internal/dataset"
	"github.com/leapstack-labs/runboard/internal/filters"
	"github.com/leapstack-labs/runboard/internal/metricstats"
	"github.com/leapstack-labs/runboard/internal/notifier"
	"github.com/leapstack-labs/runboard/internal/polling"
	"github.com/leapstack-labs/runboard/internal/rowload"
	"github.com/leapstack-labs/runboard/internal/scope"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Caches groups the scoped caches a table reads through. Tables created with
// the same Caches share entries, which stay isolated by scope key.
type Caches struct {
	Summaries   *cache.Scoped[*core.RunSummary]
	Details     *cache.Scoped[*core.RunDetail]
	Stats       *cache.Scoped[metricstats.Result]
	OutputTypes *cache.Scoped[string]
	Labels      *cache.Scoped[string]
}

// NewCaches returns caches bounded to size entries each.
func NewCaches(size int) *Caches {
	return &Caches{
		Summaries:   cache.New[*core.RunSummary](size),
		Details:     cache.New[*core.RunDetail](size),
		Stats:       cache.New[metricstats.Result](size),
		OutputTypes: cache.New[string](size),
		Labels:      cache.New[string](size),
	}
}

// Config configures a Table.
type Config struct {
	API       core.RunsAPI
	ProjectID string
	AppIDs    []string
	Kind      core.EvaluationKind

	PageSize     int
	PollInterval time.Duration

	// Filters shares filter state between tables of the same scope.
	// A private registry is used when nil.
	Filters *filters.Registry

	// Locked filter values can be added to but never removed.
	Locked core.FilterValues

	Caches *Caches
	Logger *slog.Logger
}

// Table is one mounted run table.
type Table struct {
	cfg    Config
	logger *slog.Logger

	filters     *filters.State
	draft       *filters.Draft
	store       *dataset.RunStore
	metrics     *blueprint.MetricBuilder
	rows        *rowload.Loader
	stats       *metricstats.Loader
	outputTypes *metricstats.OutputTypes
	labels      *cache.Scoped[string]
	labelGroup  singleflight.Group
	lookupMu    sync.Mutex
	lookups     *cache.Scoped[lookupState]
	poller      *polling.Controller
	notifier    *notifier.Notifier

	mu           sync.Mutex
	version      uint64
	page         *dataset.RunPagination
	selection    map[string]struct{}
	prunePending bool
	closed       bool
}

// ErrClosed is returned by operations on a closed table.
var ErrClosed = errors.New("run table is closed")

// New mounts a table and restores its scope's filter state. It does not
// fetch anything; call LoadNextPage for the first page.
func New(ctx context.Context, cfg Config) (*Table, error) {
	if cfg.API == nil {
		return nil, errors.New("runtable: API is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = core.KindAuto
	}
	if _, err := core.ParseEvaluationKind(string(cfg.Kind)); err != nil {
		return nil, fmt.Errorf("runtable: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Caches == nil {
		cfg.Caches = NewCaches(0)
	}
	if cfg.Filters == nil {
		cfg.Filters = filters.NewRegistry(nil, cfg.Logger)
	}
	cfg.AppIDs = scope.SortedSet(cfg.AppIDs)

	logger := cfg.Logger.With(slog.String("project", cfg.ProjectID), slog.String("kind", string(cfg.Kind)))
	t := &Table{
		cfg:       cfg,
		logger:    logger,
		metrics:   blueprint.NewMetricBuilder(),
		labels:    cfg.Caches.Labels,
		lookups:   cache.New[lookupState](0),
		notifier:  notifier.New(),
		selection: make(map[string]struct{}),
	}

	store, err := dataset.NewRunStore(cfg.API, dataset.Config[core.RunRow, core.APIRun, dataset.RunQuery]{
		PageSize: cfg.PageSize,
		OnChange: t.onRowsChanged,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	t.store = store

	t.rows = rowload.New(rowload.Config{
		API:       cfg.API,
		Summaries: cfg.Caches.Summaries,
		Details:   cfg.Caches.Details,
		OnChange:  func(core.RunRef) { t.notifier.Broadcast() },
		Logger:    logger,
	})
	t.stats = metricstats.NewLoader(cfg.API, cfg.Caches.Stats, logger)
	t.outputTypes = metricstats.NewOutputTypes(cfg.API, cfg.Caches.OutputTypes, logger)
	t.poller = polling.New(polling.Config{
		Interval: cfg.PollInterval,
		Refetch:  t.Refetch,
		Logger:   logger,
	})

	t.filters = cfg.Filters.For(ctx, t.scopeInput(core.FilterValues{}))
	t.draft = filters.NewDraft(t.filters)
	if !isZeroFilters(cfg.Locked) {
		t.filters.Lock(ctx, cfg.Locked)
	}

	meta := t.filters.Meta()
	t.version = meta.Version
	t.page = store.Pagination(meta.ScopeSignature, t.query(meta))
	return t, nil
}

func (t *Table) scopeInput(values core.FilterValues) scope.Input {
	return scope.Input{
		ProjectID: t.cfg.ProjectID,
		AppIDs:    t.cfg.AppIDs,
		Kind:      t.cfg.Kind,
		Filters:   values,
	}
}

func (t *Table) query(m filters.Meta) dataset.RunQuery {
	return dataset.RunQuery{
		ProjectID: t.cfg.ProjectID,
		AppIDs:    t.cfg.AppIDs,
		Kind:      t.cfg.Kind,
		Filters:   m.Values(),
	}
}

// sync moves the table to a fresh pagination when the filter version
// changed since the last call, and only then.
func (t *Table) sync() *dataset.RunPagination {
	meta := t.filters.Meta()

	t.mu.Lock()
	if meta.Version == t.version || t.closed {
		p := t.page
		t.mu.Unlock()
		return p
	}
	old := t.page
	t.version = meta.Version
	t.page = t.store.Pagination(meta.ScopeSignature, t.query(meta))
	t.prunePending = true
	p := t.page
	t.mu.Unlock()

	if old.ScopeID() != p.ScopeID() {
		t.store.Drop(old.ScopeID())
	}
	t.logger.Debug("filters changed, pages reset",
		slog.String("scope", p.ScopeID()),
		slog.Uint64("version", meta.Version))
	p.ResetPages()
	return p
}

// current returns the active pagination without syncing.
func (t *Table) current() *dataset.RunPagination {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// ScopeSignature returns the signature of the active dataset scope.
func (t *Table) ScopeSignature() string {
	return t.sync().ScopeID()
}

// Rows returns the current rows: resolved rows followed by skeletons while
// more may load.
func (t *Table) Rows() []core.RunRow {
	return t.sync().Rows()
}

// ResolvedRows returns only the loaded rows.
func (t *Table) ResolvedRows() []core.RunRow {
	return t.sync().Resolved()
}

// LoadNextPage loads the next page of the active scope. Calls while a page
// is in flight are no-ops.
func (t *Table) LoadNextPage(ctx context.Context) error {
	if t.isClosed() {
		return ErrClosed
	}
	p := t.sync()
	if err := p.LoadNextPage(ctx); err != nil {
		return err
	}
	t.afterLoad(ctx, p)
	return nil
}

// LoadAll loads pages until the scope is exhausted or maxPages pages were
// requested. maxPages <= 0 means no limit.
func (t *Table) LoadAll(ctx context.Context, maxPages int) error {
	for i := 0; maxPages <= 0 || i < maxPages; i++ {
		p := t.sync()
		if !p.HasMore() {
			return nil
		}
		if err := t.LoadNextPage(ctx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Refetch reloads the loaded rows and metric statistics in the background
// without dropping what is shown, and asks again for row and label lookups
// that failed. The poller calls it on every tick.
func (t *Table) Refetch(ctx context.Context) error {
	p := t.current()
	if err := p.Refetch(ctx); err != nil {
		return err
	}
	t.rows.MarkStale(t.cfg.ProjectID)
	t.lookups.Clear()
	if err := t.stats.Refetch(ctx, t.cfg.ProjectID, inProgressRunIDs(p.Resolved())); err != nil {
		t.logger.Debug("metric refetch failed", slog.String("error", err.Error()))
	}
	t.notifier.Broadcast()
	return nil
}

// afterLoad prunes the selection after the first page of a new row set and
// starts resolving output types of new metric columns.
func (t *Table) afterLoad(ctx context.Context, p *dataset.RunPagination) {
	resolved := p.Resolved()

	t.mu.Lock()
	if t.prunePending && p == t.page {
		t.pruneSelectionLocked(resolved)
		t.prunePending = false
	}
	t.mu.Unlock()

	t.observe(resolved)
	go t.resolveOutputTypes(context.WithoutCancel(ctx), resolved)
}

// resolveOutputTypes resolves the output types of the metrics in rows. It runs
// after the filters may have moved on, so it folds rows into a private
// builder and leaves the table's blueprint alone.
func (t *Table) resolveOutputTypes(ctx context.Context, rows []core.RunRow) {
	groups := blueprint.NewMetricBuilder().Build("", rows, t.cfg.Kind)
	added, err := t.outputTypes.Probe(ctx, t.cfg.ProjectID, t.cfg.ProjectID, blueprint.Descriptors(groups))
	if err != nil {
		t.logger.Debug("output type lookup failed", slog.String("error", err.Error()))
	}
	if added > 0 {
		t.notifier.Broadcast()
	}
}

func (t *Table) onRowsChanged(scopeID string) {
	p := t.current()
	if p != nil && p.ScopeID() == scopeID {
		t.observe(p.Resolved())
	}
	t.notifier.Broadcast()
}

func (t *Table) observe(rows []core.RunRow) {
	if t.isClosed() {
		return
	}
	t.poller.Observe(rows)
}

// Polling reports whether background polling is active.
func (t *Table) Polling() bool {
	return t.poller.State() == polling.Polling
}

// Subscribe returns a channel pinged after every change, and its
// unsubscribe function.
func (t *Table) Subscribe() (<-chan struct{}, func()) {
	return t.notifier.Subscribe()
}

// Close stops polling, closes subscriber channels and drops the dataset.
// Caches passed in through Config are left intact.
func (t *Table) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	p := t.page
	t.mu.Unlock()

	t.poller.Close()
	t.notifier.Close()
	t.store.Drop(p.ScopeID())
}

func (t *Table) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func inProgressRunIDs(rows []core.RunRow) []string {
	ids := []string{}
	for _, r := range rows {
		if r.Status.IsInProgress() && r.RunID != "" {
			ids = append(ids, r.RunID)
		}
	}
	return ids
}

func isZeroFilters(f core.FilterValues) bool {
	return scope.CanonicalFilters(f) == scope.CanonicalFilters(core.FilterValues{})
}
