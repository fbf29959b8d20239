package blueprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/pkg/core"
)

func refs(t *testing.T, kv map[string]any) map[string]json.RawMessage {
	t.Helper()
	out := make(map[string]json.RawMessage, len(kv))
	for k, v := range kv {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		out[k] = data
	}
	return out
}

func resolvedRow(id string, steps ...core.Step) core.RunRow {
	return core.RunRow{Key: "p::" + id, RunID: id, PreviewMeta: &core.PreviewMeta{Steps: steps}}
}

func TestResolveRole_Aliases(t *testing.T) {
	tests := []struct {
		name string
		refs map[string]any
		role core.ReferenceRole
		want []core.ReferenceValue
	}{
		{
			name: "object with id and name",
			refs: map[string]any{"testset": map[string]any{"id": "ts-1", "name": "Golden"}},
			role: core.RoleTestset,
			want: []core.ReferenceValue{{ID: "ts-1", Name: "Golden", Source: "testset"}},
		},
		{
			name: "camel case alias and field casing",
			refs: map[string]any{"applicationVariant": map[string]any{"ID": "v-1", "Slug": "v1"}},
			role: core.RoleVariant,
			want: []core.ReferenceValue{{ID: "v-1", Slug: "v1", Source: "applicationVariant"}},
		},
		{
			name: "plain string is an id",
			refs: map[string]any{"query": "q-9"},
			role: core.RoleQuery,
			want: []core.ReferenceValue{{ID: "q-9", Source: "query"}},
		},
		{
			name: "array yields one value per element",
			refs: map[string]any{"testset": []any{map[string]any{"id": "a"}, "b", map[string]any{"id": "a"}}},
			role: core.RoleTestset,
			want: []core.ReferenceValue{{ID: "a", Source: "testset"}, {ID: "b", Source: "testset"}},
		},
		{
			name: "same identity under two aliases is kept per source",
			refs: map[string]any{
				"testset":          map[string]any{"id": "ts-1"},
				"testset_revision": map[string]any{"id": "ts-1"},
			},
			role: core.RoleTestset,
			want: []core.ReferenceValue{
				{ID: "ts-1", Source: "testset"},
				{ID: "ts-1", Source: "testset_revision"},
			},
		},
		{
			name: "values without identity are dropped",
			refs: map[string]any{"testset": map[string]any{"label": "nothing"}, "application": 42},
			role: core.RoleTestset,
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveRole(core.Step{Key: "s", References: refs(t, tt.refs)}, tt.role)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildReferenceSequence_Order(t *testing.T) {
	meta := &core.PreviewMeta{Steps: []core.Step{
		{Key: "input", References: refs(t, map[string]any{
			"application": "app-1",
			"testset":     "ts-1",
		})},
		{Key: "eval", References: refs(t, map[string]any{
			"evaluator": map[string]any{"slug": "exact"},
		})},
	}}

	seq := BuildReferenceSequence(meta)
	require.Len(t, seq, 3)
	assert.Equal(t, core.RoleTestset, seq[0].Role)
	assert.Equal(t, core.RoleApplication, seq[1].Role)
	assert.Equal(t, "input", seq[1].StepKey)
	assert.Equal(t, core.RoleEvaluator, seq[2].Role)
	assert.Equal(t, 1, seq[2].StepIndex)

	assert.Nil(t, BuildReferenceSequence(nil))
}

func TestSlotByRoleOrdinal(t *testing.T) {
	seq := []Slot{
		{Role: core.RoleTestset, StepKey: "a"},
		{Role: core.RoleApplication, StepKey: "b"},
		{Role: core.RoleTestset, StepKey: "c"},
	}

	s, ok := SlotByRoleOrdinal(seq, core.RoleTestset, 2)
	require.True(t, ok)
	assert.Equal(t, "c", s.StepKey)

	_, ok = SlotByRoleOrdinal(seq, core.RoleTestset, 3)
	assert.False(t, ok)
	_, ok = SlotByRoleOrdinal(seq, core.RoleTestset, 0)
	assert.False(t, ok)
}

func TestBuildReferenceBlueprint_Fallbacks(t *testing.T) {
	tests := []struct {
		kind core.EvaluationKind
		want []core.ReferenceRole
	}{
		{core.KindAuto, []core.ReferenceRole{core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator}},
		{core.KindHuman, []core.ReferenceRole{core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator}},
		{core.KindCustom, []core.ReferenceRole{core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator}},
		{core.KindOnline, []core.ReferenceRole{core.RoleQuery, core.RoleEvaluator}},
		{core.KindAll, core.RolePriority},
	}

	skeletonOnly := []core.RunRow{{Key: "sk", IsSkeleton: true}}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			cols := BuildReferenceBlueprint(skeletonOnly, tt.kind)
			var roles []core.ReferenceRole
			for _, c := range cols {
				roles = append(roles, c.Role)
				assert.Equal(t, 1, c.Ordinal)
			}
			assert.Equal(t, tt.want, roles)
		})
	}
}

func TestBuildReferenceBlueprint_TwoTestsets(t *testing.T) {
	twoTestsets := resolvedRow("r1",
		core.Step{Key: "in-1", References: refs(t, map[string]any{"testset": "ts-1"})},
		core.Step{Key: "in-2", References: refs(t, map[string]any{"testset": "ts-2"})},
	)
	oneTestset := resolvedRow("r2",
		core.Step{Key: "in-1", References: refs(t, map[string]any{"testset": "ts-3", "application": "app"})},
	)

	cols := BuildReferenceBlueprint([]core.RunRow{oneTestset, twoTestsets}, core.KindAuto)
	require.Len(t, cols, 3)
	assert.Equal(t, ReferenceColumn{ID: "ref:testset:1", Role: core.RoleTestset, Ordinal: 1, Label: "Testset #1"}, cols[0])
	assert.Equal(t, ReferenceColumn{ID: "ref:testset:2", Role: core.RoleTestset, Ordinal: 2, Label: "Testset #2"}, cols[1])
	assert.Equal(t, "Application", cols[2].Label)

	v, ok := ReferenceCell(twoTestsets, cols[1])
	require.True(t, ok)
	assert.Equal(t, "ts-2", v.ID)

	_, ok = ReferenceCell(oneTestset, cols[1])
	assert.False(t, ok)
}
