package filters

import (
	"context"
	"sync"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// Draft is one filter editor's pending edit over a shared State. Each table
// owns its own Draft, so an edit is invisible to other tables of the scope
// until it is applied.
type Draft struct {
	state *State

	mu      sync.Mutex
	pending *core.FilterValues
}

// NewDraft returns an empty draft over s.
func NewDraft(s *State) *Draft {
	return &Draft{state: s}
}

// Values returns the pending edit, or the applied values when there is none.
// Locked values are merged back in by Apply.
func (d *Draft) Values() core.FilterValues {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return d.state.Meta().Values()
	}
	return d.pending.Clone()
}

// Pending reports whether an edit is pending.
func (d *Draft) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Edit applies fn to the pending edit, starting one from the applied values
// if needed. The applied meta is not touched.
func (d *Draft) Edit(fn func(*core.FilterValues)) {
	applied := d.state.Meta().Values()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		d.pending = &applied
	}
	fn(d.pending)
}

// Apply commits the pending edit to the shared state and clears it. Without
// a pending edit it is a no-op.
func (d *Draft) Apply(ctx context.Context) (Meta, bool) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()

	if pending == nil {
		return d.state.Meta(), false
	}
	return d.state.Set(ctx, *pending)
}

// Discard drops the pending edit.
func (d *Draft) Discard() {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}
