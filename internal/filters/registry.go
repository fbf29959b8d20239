package filters

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/runboard/internal/scope"
)

// Registry hands out one State per scope key so that two tables on the same
// project, apps and kind share their applied filters while any other pair does not.
type Registry struct {
	mu        sync.Mutex
	states    map[string]*State
	persister Persister
	logger    *slog.Logger
}

// NewRegistry creates a registry. persister may be nil.
func NewRegistry(persister Persister, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		states:    make(map[string]*State),
		persister: persister,
		logger:    logger,
	}
}

// For returns the state for in's scope, creating it on first use.
// A new state is restored from the persister when one is configured; load
// failures are logged and the state starts from in.Filters.
func (r *Registry) For(ctx context.Context, in scope.Input) *State {
	key := scope.Base(in)

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.states[key]; ok {
		return s
	}

	s := NewState(in, r.persister, r.logger)
	if r.persister != nil {
		saved, err := r.persister.LoadFilters(ctx, key)
		switch {
		case err != nil:
			r.logger.Warn("failed to load saved filters",
				slog.String("scope", key),
				slog.String("error", err.Error()))
		case saved != nil:
			s.restore(*saved)
		}
	}
	r.states[key] = s
	return s
}

// Forget drops the state for in's scope.
func (r *Registry) Forget(in scope.Input) {
	r.mu.Lock()
	delete(r.states, scope.Base(in))
	r.mu.Unlock()
}
