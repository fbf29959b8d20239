// Package filters holds the versioned, per-scope filter state of a run table.
//
// Applied filters are shared by every table of a scope. Edits go to the
// table's own Draft first and reach the shared meta only through Apply.
// Every applied change whose normalized value differs from the previous one
// bumps Version, which is the only signal the dataset uses to reset.
package filters

import (
	"github.com/leapstack-labs/runboard/internal/scope"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Meta is the applied filter state of one scope.
type Meta struct {
	ScopeSignature string `json:"scopeSignature"`
	core.FilterValues
	Version uint64 `json:"version"`
}

// Values returns a deep copy of the filter values.
func (m Meta) Values() core.FilterValues {
	return m.FilterValues.Clone()
}

// mergeLocked returns v with every locked value added back in.
// Locked sets are unioned, so a locked value can be supplemented but never removed.
func mergeLocked(v, locked core.FilterValues) core.FilterValues {
	out := v.Clone()

	for k, on := range locked.Flags {
		if !on {
			continue
		}
		if out.Flags == nil {
			out.Flags = make(map[string]bool)
		}
		out.Flags[k] = true
	}

	if out.Search == "" {
		out.Search = locked.Search
	}

	out.StatusFilters = union(out.StatusFilters, locked.StatusFilters)
	out.EvaluationTypeFilters = union(out.EvaluationTypeFilters, locked.EvaluationTypeFilters)

	for role, ids := range locked.ReferenceFilters {
		if len(ids) == 0 {
			continue
		}
		if out.ReferenceFilters == nil {
			out.ReferenceFilters = make(map[core.ReferenceRole][]string)
		}
		out.ReferenceFilters[role] = union(out.ReferenceFilters[role], ids)
	}

	if out.DateRange.IsZero() && !locked.DateRange.IsZero() {
		dr := *locked.DateRange
		out.DateRange = &dr
	}

	return scope.Normalize(out)
}

func union(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	return scope.SortedSet(append(append([]string(nil), a...), b...))
}
