package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// Pagination is the windowed row set of one scope.
//
// Pages are requested strictly in order: page N+1 is only requested once the
// cursor returned by page N is known. A fetch started before ResetPages or
// Drop belongs to an older generation and its result is discarded.
type Pagination[R, A, M any] struct {
	cfg     *Config[R, A, M]
	scopeID string
	meta    M
	rowKey  string

	mu         sync.Mutex
	generation uint64
	rows       []R
	skeletons  []R
	started    bool
	hasMore    bool
	total      int
	nextOffset int
	cursor     string
	windowing  *core.Windowing
	inFlight   bool
	lastErr    error
}

func newPagination[R, A, M any](cfg *Config[R, A, M], scopeID string, meta M) *Pagination[R, A, M] {
	return &Pagination[R, A, M]{
		cfg:     cfg,
		scopeID: scopeID,
		meta:    meta,
		rowKey:  uuid.NewString(),
	}
}

// ScopeID returns the scope this pagination belongs to.
func (p *Pagination[R, A, M]) ScopeID() string {
	return p.scopeID
}

// Meta returns the meta every page request of this scope carries.
func (p *Pagination[R, A, M]) Meta() M {
	return p.meta
}

// Rows returns resolved rows followed by one page of skeletons while more
// rows may follow. Before the first page resolves the result is a full page
// of skeletons, never empty.
func (p *Pagination[R, A, M]) Rows() []R {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]R, 0, len(p.rows)+p.cfg.PageSize)
	out = append(out, p.rows...)
	if !p.started || p.hasMore {
		out = append(out, p.pendingSkeletonsLocked()...)
	}
	return out
}

// Resolved returns only the rows merged from API responses.
func (p *Pagination[R, A, M]) Resolved() []R {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]R(nil), p.rows...)
}

// Total returns the total row count reported by the last page.
func (p *Pagination[R, A, M]) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// HasMore reports whether another page can be loaded.
func (p *Pagination[R, A, M]) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.started || p.hasMore
}

// Loading reports whether a fetch is in flight.
func (p *Pagination[R, A, M]) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Err returns the error of the last failed fetch, cleared by the next success.
func (p *Pagination[R, A, M]) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Windowing returns a copy of the last windowing descriptor, or nil.
func (p *Pagination[R, A, M]) Windowing() *core.Windowing {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.windowing == nil {
		return nil
	}
	w := *p.windowing
	return &w
}

// LoadNextPage requests the next page. It is a no-op while a fetch is in
// flight and once the last page has been loaded. Fetch errors are returned;
// the pending skeletons stay in place and the pagination remains resettable.
func (p *Pagination[R, A, M]) LoadNextPage(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight || (p.started && !p.hasMore) {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	gen := p.generation
	offset := p.nextOffset
	req := PageRequest[M]{
		Limit:     p.cfg.PageSize,
		Offset:    offset,
		Cursor:    p.cursor,
		Windowing: echoWindowing(p.windowing, p.cfg.PageSize),
		Meta:      p.meta,
	}
	skeletons := p.pendingSkeletonsLocked()
	p.mu.Unlock()

	p.cfg.Logger.Debug("fetching page",
		slog.String("scope", p.scopeID),
		slog.Int("offset", offset),
		slog.String("cursor", req.Cursor))

	res, err := p.cfg.FetchPage(ctx, req)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		p.cfg.Logger.Debug("discarding stale page",
			slog.String("scope", p.scopeID),
			slog.Int("offset", offset))
		return nil
	}
	p.inFlight = false
	if err != nil {
		p.lastErr = err
		p.mu.Unlock()
		p.notify()
		return fmt.Errorf("fetch page at offset %d: %w", offset, err)
	}

	for i, apiRow := range res.Rows {
		var sk R
		if i < len(skeletons) {
			sk = skeletons[i]
		} else {
			sk = p.skeleton(offset, i)
		}
		p.rows = append(p.rows, p.cfg.Merge(sk, apiRow))
	}
	p.skeletons = nil
	p.applyResultLocked(res, offset)
	p.mu.Unlock()

	p.notify()
	return nil
}

// ResetPages discards every loaded row and skeleton and starts over at
// page 0. Rows immediately show a fresh page of skeletons.
func (p *Pagination[R, A, M]) ResetPages() {
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
	p.notify()
}

// Refetch reloads every loaded row in one request without showing skeletons.
// It is skipped while another fetch is in flight or before the first page.
func (p *Pagination[R, A, M]) Refetch(ctx context.Context) error {
	p.mu.Lock()
	if p.inFlight || !p.started {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = true
	gen := p.generation
	limit := max(len(p.rows), p.cfg.PageSize)
	req := PageRequest[M]{
		Limit:     limit,
		Windowing: &core.Windowing{Limit: limit},
		Meta:      p.meta,
	}
	p.mu.Unlock()

	res, err := p.cfg.FetchPage(ctx, req)

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return nil
	}
	p.inFlight = false
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("refetch %d rows: %w", limit, err)
	}

	rows := make([]R, 0, len(res.Rows))
	for i, apiRow := range res.Rows {
		rows = append(rows, p.cfg.Merge(p.skeleton(0, i), apiRow))
	}
	p.rows = rows
	p.skeletons = nil
	p.lastErr = nil
	p.applyResultLocked(res, 0)
	p.mu.Unlock()

	p.notify()
	return nil
}

func (p *Pagination[R, A, M]) applyResultLocked(res PageResult[A], offset int) {
	next := nextCursor(res)
	if res.HasMore && next == "" {
		p.cfg.Logger.Warn("page reports more rows without a cursor, stopping",
			slog.String("scope", p.scopeID),
			slog.Int("offset", offset))
	}

	p.started = true
	p.lastErr = nil
	// Page N+1 needs page N's cursor; without one the listing would restart.
	p.hasMore = next != ""
	p.total = res.TotalCount
	p.cursor = next
	p.windowing = res.NextWindowing
	if res.NextOffset > 0 {
		p.nextOffset = res.NextOffset
	} else {
		p.nextOffset = offset + len(res.Rows)
	}
	if p.total < len(p.rows) {
		p.total = len(p.rows)
	}
}

func (p *Pagination[R, A, M]) resetLocked() {
	p.generation++
	p.rows = nil
	p.skeletons = nil
	p.started = false
	p.hasMore = false
	p.total = 0
	p.nextOffset = 0
	p.cursor = ""
	p.windowing = nil
	p.inFlight = false
	p.lastErr = nil
}

func (p *Pagination[R, A, M]) invalidate() {
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
}

// pendingSkeletonsLocked returns the skeletons of the next page, creating
// them once per offset so their keys stay stable between calls.
func (p *Pagination[R, A, M]) pendingSkeletonsLocked() []R {
	if p.skeletons == nil {
		offset := len(p.rows)
		p.skeletons = make([]R, p.cfg.PageSize)
		for i := range p.skeletons {
			p.skeletons[i] = p.skeleton(offset, i)
		}
	}
	return p.skeletons
}

func (p *Pagination[R, A, M]) skeleton(offset, index int) R {
	return p.cfg.CreateSkeleton(SkeletonRequest{
		ScopeID: p.scopeID,
		Offset:  offset,
		Index:   index,
		RowKey:  p.rowKey,
	})
}

func (p *Pagination[R, A, M]) notify() {
	if p.cfg.OnChange != nil {
		p.cfg.OnChange(p.scopeID)
	}
}

// nextCursor returns the cursor of the page after res: NextCursor, else the
// Next of its windowing descriptor. Empty means res was the last page.
func nextCursor[A any](res PageResult[A]) string {
	if res.NextCursor != "" {
		return res.NextCursor
	}
	if res.NextWindowing != nil {
		return res.NextWindowing.Next
	}
	return ""
}

// echoWindowing returns the descriptor to send with the next request: the
// previous response's descriptor unchanged except for Limit.
func echoWindowing(w *core.Windowing, limit int) *core.Windowing {
	if w == nil {
		return nil
	}
	out := *w
	out.Limit = limit
	return &out
}
