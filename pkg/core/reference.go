package core

import "time"

// ReferenceRole is the kind of entity a step references.
type ReferenceRole string

// Reference roles.
const (
	RoleApplication ReferenceRole = "application"
	RoleVariant     ReferenceRole = "variant"
	RoleTestset     ReferenceRole = "testset"
	RoleQuery       ReferenceRole = "query"
	RoleEvaluator   ReferenceRole = "evaluator"
)

// RolePriority is the fixed order in which roles are read from a step.
var RolePriority = []ReferenceRole{RoleTestset, RoleQuery, RoleApplication, RoleVariant, RoleEvaluator}

// ReferenceValue is one candidate identity for a role.
// Source is the alias key the value was read from.
type ReferenceValue struct {
	ID     string `json:"id,omitempty"`
	Slug   string `json:"slug,omitempty"`
	Name   string `json:"name,omitempty"`
	Label  string `json:"label,omitempty"`
	Source string `json:"source,omitempty"`
}

// Identity returns the first non-empty of id, slug and name.
func (v ReferenceValue) Identity() string {
	switch {
	case v.ID != "":
		return v.ID
	case v.Slug != "":
		return v.Slug
	default:
		return v.Name
	}
}

// Display returns the best human-readable text for the value.
func (v ReferenceValue) Display() string {
	for _, s := range []string{v.Label, v.Name, v.Slug, v.ID} {
		if s != "" {
			return s
		}
	}
	return ""
}

// DateRange bounds run creation time. Nil ends are open.
type DateRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// IsZero reports whether neither end is set.
func (d *DateRange) IsZero() bool {
	return d == nil || (d.From == nil && d.To == nil)
}

// FilterValues holds every user-editable filter of a run table.
type FilterValues struct {
	Flags                 map[string]bool            `json:"flags,omitempty"`
	Search                string                     `json:"search,omitempty"`
	StatusFilters         []string                   `json:"status,omitempty"`
	ReferenceFilters      map[ReferenceRole][]string `json:"references,omitempty"`
	EvaluationTypeFilters []string                   `json:"evaluation_types,omitempty"`
	DateRange             *DateRange                 `json:"date_range,omitempty"`
}

// Clone returns a deep copy.
func (f FilterValues) Clone() FilterValues {
	out := FilterValues{Search: f.Search}
	if f.Flags != nil {
		out.Flags = make(map[string]bool, len(f.Flags))
		for k, v := range f.Flags {
			out.Flags[k] = v
		}
	}
	out.StatusFilters = append([]string(nil), f.StatusFilters...)
	out.EvaluationTypeFilters = append([]string(nil), f.EvaluationTypeFilters...)
	if f.ReferenceFilters != nil {
		out.ReferenceFilters = make(map[ReferenceRole][]string, len(f.ReferenceFilters))
		for role, ids := range f.ReferenceFilters {
			out.ReferenceFilters[role] = append([]string(nil), ids...)
		}
	}
	if f.DateRange != nil {
		dr := *f.DateRange
		out.DateRange = &dr
	}
	return out
}
