package filters

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/go-cmp/cmp"

	"github.com/leapstack-labs/runboard/internal/scope"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Persister stores applied meta per scope key.
// LoadFilters returns nil, nil when nothing was saved for the key.
type Persister interface {
	LoadFilters(ctx context.Context, scopeKey string) (*Meta, error)
	SaveFilters(ctx context.Context, scopeKey string, m Meta) error
}

// State is the applied filter state of one scope, shared by every table of
// that scope. Pending edits live in each table's Draft.
type State struct {
	mu      sync.Mutex
	key     string
	base    scope.Input
	applied Meta
	locked  core.FilterValues

	persister Persister
	logger    *slog.Logger
}

// NewState creates filter state for the scope described by in.
// in.Filters seeds the initial applied values at version 0.
func NewState(in scope.Input, persister Persister, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	values := scope.Normalize(in.Filters)
	base := in
	base.Filters = core.FilterValues{}

	s := &State{
		key:       scope.Base(in),
		base:      base,
		persister: persister,
		logger:    logger,
	}
	s.applied = Meta{FilterValues: values, ScopeSignature: s.signature(values)}
	return s
}

// Key returns the scope key the state is stored under.
func (s *State) Key() string {
	return s.key
}

// Meta returns a copy of the applied meta.
func (s *State) Meta() Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.applied
	m.FilterValues = m.Clone()
	return m
}

// Version returns the applied meta version.
func (s *State) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied.Version
}

// Set replaces the applied values. Locked values are merged back in first.
// The version is bumped only when the normalized result differs from the
// current values; the returned bool reports whether that happened.
func (s *State) Set(ctx context.Context, values core.FilterValues) (Meta, bool) {
	s.mu.Lock()
	m, changed := s.setLocked(values)
	s.mu.Unlock()

	if changed {
		s.save(ctx, m)
	}
	return m, changed
}

func (s *State) setLocked(values core.FilterValues) (Meta, bool) {
	next := mergeLocked(values, s.locked)
	if cmp.Equal(next, s.applied.FilterValues) {
		m := s.applied
		m.FilterValues = m.Clone()
		return m, false
	}

	s.applied = Meta{
		ScopeSignature: s.signature(next),
		FilterValues:   next,
		Version:        s.applied.Version + 1,
	}
	s.logger.Debug("filters changed",
		slog.String("scope", s.key),
		slog.Uint64("version", s.applied.Version))

	m := s.applied
	m.FilterValues = m.Clone()
	return m, true
}

// Lock pins values that every later Set must keep, and merges them into the
// applied values right away.
func (s *State) Lock(ctx context.Context, locked core.FilterValues) (Meta, bool) {
	s.mu.Lock()
	s.locked = scope.Normalize(locked)
	m, changed := s.setLocked(s.applied.FilterValues)
	s.mu.Unlock()

	if changed {
		s.save(ctx, m)
	}
	return m, changed
}

// Locked returns the pinned values.
func (s *State) Locked() core.FilterValues {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked.Clone()
}

// restore installs persisted meta without bumping the version.
func (s *State) restore(m Meta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := mergeLocked(m.FilterValues, s.locked)
	s.applied = Meta{
		ScopeSignature: s.signature(values),
		FilterValues:   values,
		Version:        m.Version,
	}
}

func (s *State) signature(values core.FilterValues) string {
	in := s.base
	in.Filters = values
	return scope.Signature(in)
}

func (s *State) save(ctx context.Context, m Meta) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveFilters(ctx, s.key, m); err != nil {
		s.logger.Warn("failed to save filters",
			slog.String("scope", s.key),
			slog.String("error", err.Error()))
	}
}
