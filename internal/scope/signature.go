// Package scope computes the deterministic partition keys used to isolate
// filter state, dataset pages and caches of one run table from another.
package scope

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// separator joins signature segments. It cannot appear in ids or kinds.
const separator = "|"

// Input is everything that partitions a run table.
type Input struct {
	ProjectID string
	AppIDs    []string
	Kind      core.EvaluationKind
	Filters   core.FilterValues
}

// Signature returns the stable scope signature of in.
// Inputs whose filters are deep-equal after normalization yield the same string.
func Signature(in Input) string {
	return Base(in) + separator + CanonicalFilters(in.Filters)
}

// Base returns the signature of in without its filters. It keys per-scope
// saved filter state, which must not move when the filters themselves change.
func Base(in Input) string {
	return strings.Join([]string{
		"project:" + in.ProjectID,
		"apps:" + strings.Join(SortedSet(in.AppIDs), ","),
		"kind:" + string(in.Kind),
	}, separator)
}

// CanonicalFilters encodes normalized filter values. encoding/json writes map
// keys in sorted order, so the encoding is canonical once slices are sorted.
func CanonicalFilters(f core.FilterValues) string {
	n := Normalize(f)
	if isEmpty(n) {
		return "filters:{}"
	}
	data, err := json.Marshal(canonicalForm(n))
	if err != nil {
		// Only plain strings, bools and times are encoded; Marshal cannot fail.
		return "filters:!"
	}
	return "filters:" + string(data)
}

// Normalize returns f with sets sorted and de-duplicated, false flags and
// empty reference roles dropped, and dates truncated to UTC seconds.
// Normalized values compare deep-equal exactly when they filter the same runs.
func Normalize(f core.FilterValues) core.FilterValues {
	out := core.FilterValues{Search: strings.TrimSpace(f.Search)}

	for k, v := range f.Flags {
		if !v {
			continue
		}
		if out.Flags == nil {
			out.Flags = make(map[string]bool)
		}
		out.Flags[k] = true
	}

	out.StatusFilters = SortedSet(f.StatusFilters)
	out.EvaluationTypeFilters = SortedSet(f.EvaluationTypeFilters)

	for role, ids := range f.ReferenceFilters {
		set := SortedSet(ids)
		if len(set) == 0 {
			continue
		}
		if out.ReferenceFilters == nil {
			out.ReferenceFilters = make(map[core.ReferenceRole][]string)
		}
		out.ReferenceFilters[role] = set
	}

	if !f.DateRange.IsZero() {
		dr := &core.DateRange{}
		if f.DateRange.From != nil {
			t := f.DateRange.From.UTC().Truncate(time.Second)
			dr.From = &t
		}
		if f.DateRange.To != nil {
			t := f.DateRange.To.UTC().Truncate(time.Second)
			dr.To = &t
		}
		out.DateRange = dr
	}

	return out
}

// SortedSet returns the sorted, de-duplicated non-empty values of in, or nil.
func SortedSet(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func isEmpty(f core.FilterValues) bool {
	return f.Search == "" &&
		len(f.Flags) == 0 &&
		len(f.StatusFilters) == 0 &&
		len(f.ReferenceFilters) == 0 &&
		len(f.EvaluationTypeFilters) == 0 &&
		f.DateRange == nil
}

// canonicalForm flattens normalized values into string-keyed maps so the
// JSON encoding does not depend on struct field order.
func canonicalForm(f core.FilterValues) map[string]any {
	m := make(map[string]any)
	if f.Search != "" {
		m["search"] = f.Search
	}
	if len(f.Flags) > 0 {
		m["flags"] = f.Flags
	}
	if len(f.StatusFilters) > 0 {
		m["status"] = f.StatusFilters
	}
	if len(f.EvaluationTypeFilters) > 0 {
		m["evaluation_types"] = f.EvaluationTypeFilters
	}
	if len(f.ReferenceFilters) > 0 {
		refs := make(map[string][]string, len(f.ReferenceFilters))
		for role, ids := range f.ReferenceFilters {
			refs[string(role)] = ids
		}
		m["references"] = refs
	}
	if f.DateRange != nil {
		dr := make(map[string]string)
		if f.DateRange.From != nil {
			dr["from"] = f.DateRange.From.Format(time.RFC3339)
		}
		if f.DateRange.To != nil {
			dr["to"] = f.DateRange.To.Format(time.RFC3339)
		}
		m["date_range"] = dr
	}
	return m
}

// Key is the composite key of every scoped cache entry.
type Key struct {
	Scope string
	ID    string
}

// String renders the key as "scope::id".
func (k Key) String() string {
	return k.Scope + "::" + k.ID
}
