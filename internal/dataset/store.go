// Package dataset provides a generic, windowed row store for infinite-scroll
// tables.
//
// A Store owns one Pagination per scope. Each Pagination loads pages strictly
// in cursor order, shows a page of skeleton rows while a page is pending and
// merges the API rows into those skeletons when the page resolves.
package dataset

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// DefaultPageSize is used when Config.PageSize is not positive.
const DefaultPageSize = 50

// PageRequest asks for one window of rows.
type PageRequest[M any] struct {
	Limit     int
	Offset    int
	Cursor    string
	Windowing *core.Windowing
	Meta      M
}

// PageResult is one resolved window. Paging continues only while a cursor is
// returned, in NextCursor or NextWindowing.Next; HasMore alone is advisory.
type PageResult[A any] struct {
	Rows          []A
	TotalCount    int
	HasMore       bool
	NextOffset    int
	NextCursor    string
	NextWindowing *core.Windowing
}

// SkeletonRequest describes one placeholder row.
type SkeletonRequest struct {
	ScopeID string
	Offset  int
	Index   int
	RowKey  string
}

// FetchFunc loads one page.
type FetchFunc[A, M any] func(ctx context.Context, req PageRequest[M]) (PageResult[A], error)

// Config configures a Store.
type Config[R, A, M any] struct {
	PageSize       int
	FetchPage      FetchFunc[A, M]
	CreateSkeleton func(SkeletonRequest) R
	Merge          func(skeleton R, apiRow A) R

	// OnChange is called with the scope id after rows of that scope change.
	// It runs without internal locks held.
	OnChange func(scopeID string)

	Logger *slog.Logger
}

// Store keeps one Pagination per scope id.
type Store[R, A, M any] struct {
	cfg Config[R, A, M]

	mu    sync.Mutex
	pages map[string]*Pagination[R, A, M]
}

// New validates cfg and returns a Store.
func New[R, A, M any](cfg Config[R, A, M]) (*Store[R, A, M], error) {
	if cfg.FetchPage == nil {
		return nil, errors.New("dataset: FetchPage is required")
	}
	if cfg.CreateSkeleton == nil {
		return nil, errors.New("dataset: CreateSkeleton is required")
	}
	if cfg.Merge == nil {
		return nil, errors.New("dataset: Merge is required")
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Store[R, A, M]{
		cfg:   cfg,
		pages: make(map[string]*Pagination[R, A, M]),
	}, nil
}

// Pagination returns the pagination of scopeID, creating it with meta on
// first use. Later calls for the same scope return the same instance and
// ignore meta.
func (s *Store[R, A, M]) Pagination(scopeID string, meta M) *Pagination[R, A, M] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pages[scopeID]; ok {
		return p
	}
	p := newPagination(&s.cfg, scopeID, meta)
	s.pages[scopeID] = p
	return p
}

// Drop discards the pagination of scopeID. In-flight fetches for it are
// discarded when they resolve.
func (s *Store[R, A, M]) Drop(scopeID string) {
	s.mu.Lock()
	p, ok := s.pages[scopeID]
	delete(s.pages, scopeID)
	s.mu.Unlock()

	if ok {
		p.invalidate()
	}
}

// Scopes returns the ids of all live scopes, sorted.
func (s *Store[R, A, M]) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.pages))
	for id := range s.pages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// PageSize returns the configured page size.
func (s *Store[R, A, M]) PageSize() int {
	return s.cfg.PageSize
}
