package scope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/runboard/pkg/core"
)

func TestSignature_Deterministic(t *testing.T) {
	from := time.Date(2025, 3, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600))

	a := Input{
		ProjectID: "p1",
		AppIDs:    []string{"app-b", "app-a", "app-a"},
		Kind:      core.KindAuto,
		Filters: core.FilterValues{
			StatusFilters: []string{"running", "success"},
			Flags:         map[string]bool{"has_errors": true, "archived": false},
			ReferenceFilters: map[core.ReferenceRole][]string{
				core.RoleTestset:   {"ts-2", "ts-1"},
				core.RoleEvaluator: nil,
			},
			DateRange: &core.DateRange{From: &from},
		},
	}
	fromUTC := from.UTC()
	b := Input{
		ProjectID: "p1",
		AppIDs:    []string{"app-a", "app-b"},
		Kind:      core.KindAuto,
		Filters: core.FilterValues{
			StatusFilters: []string{"success", "running", "running"},
			Flags:         map[string]bool{"has_errors": true},
			ReferenceFilters: map[core.ReferenceRole][]string{
				core.RoleTestset: {"ts-1", "ts-2"},
			},
			DateRange: &core.DateRange{From: &fromUTC},
		},
	}

	assert.Equal(t, Signature(a), Signature(b))
	assert.Equal(t, Base(a), Base(b))
}

func TestSignature_DiffersOnEveryComponent(t *testing.T) {
	base := Input{ProjectID: "p1", AppIDs: []string{"a"}, Kind: core.KindAuto}

	tests := []struct {
		name   string
		mutate func(in *Input)
	}{
		{"project", func(in *Input) { in.ProjectID = "p2" }},
		{"apps", func(in *Input) { in.AppIDs = []string{"b"} }},
		{"kind", func(in *Input) { in.Kind = core.KindOnline }},
		{"status", func(in *Input) { in.Filters.StatusFilters = []string{"running"} }},
		{"search", func(in *Input) { in.Filters.Search = "gpt" }},
		{"flag", func(in *Input) { in.Filters.Flags = map[string]bool{"is_live": true} }},
		{"evaluation type", func(in *Input) { in.Filters.EvaluationTypeFilters = []string{"human"} }},
		{"reference", func(in *Input) {
			in.Filters.ReferenceFilters = map[core.ReferenceRole][]string{core.RoleQuery: {"q1"}}
		}},
	}

	want := Signature(base)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			in.Filters = base.Filters.Clone()
			tt.mutate(&in)
			assert.NotEqual(t, want, Signature(in))
		})
	}
}

func TestSignature_EmptyFiltersAreCanonical(t *testing.T) {
	a := Input{ProjectID: "p1", Kind: core.KindHuman}
	b := Input{ProjectID: "p1", Kind: core.KindHuman, Filters: core.FilterValues{
		Flags:         map[string]bool{"archived": false},
		StatusFilters: []string{" "},
		DateRange:     &core.DateRange{},
		Search:        "   ",
	}}

	assert.Equal(t, Signature(a), Signature(b))
	assert.Contains(t, Signature(a), "filters:{}")
}

func TestNormalize(t *testing.T) {
	got := Normalize(core.FilterValues{
		StatusFilters:         []string{"b", "a", "b", ""},
		EvaluationTypeFilters: nil,
		Flags:                 map[string]bool{"x": false},
	})

	assert.Equal(t, []string{"a", "b"}, got.StatusFilters)
	assert.Nil(t, got.EvaluationTypeFilters)
	assert.Nil(t, got.Flags)
	assert.Nil(t, got.DateRange)
}

func TestSortedSet(t *testing.T) {
	assert.Nil(t, SortedSet(nil))
	assert.Nil(t, SortedSet([]string{"", "  "}))
	assert.Equal(t, []string{"a", "c"}, SortedSet([]string{"c", "a", "c"}))
}
