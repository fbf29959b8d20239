package blueprint

import (
	"fmt"
	"slices"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// Slot is one role reference of one step.
type Slot struct {
	Role      core.ReferenceRole
	StepIndex int
	StepKey   string
	Values    []core.ReferenceValue
}

// Primary returns the first candidate value of the slot.
func (s Slot) Primary() (core.ReferenceValue, bool) {
	if len(s.Values) == 0 {
		return core.ReferenceValue{}, false
	}
	return s.Values[0], true
}

// BuildReferenceSequence walks steps in order and, per step, roles in
// core.RolePriority order, emitting one slot per role that has values.
func BuildReferenceSequence(meta *core.PreviewMeta) []Slot {
	if meta == nil {
		return nil
	}
	var seq []Slot
	for i, step := range meta.Steps {
		for _, role := range core.RolePriority {
			values := ResolveRole(step, role)
			if len(values) == 0 {
				continue
			}
			seq = append(seq, Slot{
				Role:      role,
				StepIndex: i,
				StepKey:   step.Key,
				Values:    values,
			})
		}
	}
	return seq
}

// SlotByRoleOrdinal returns the ordinal-th (1-based) slot of role in seq.
// Cell rendering and export both resolve reference values through it.
func SlotByRoleOrdinal(seq []Slot, role core.ReferenceRole, ordinal int) (Slot, bool) {
	if ordinal < 1 {
		return Slot{}, false
	}
	n := 0
	for _, s := range seq {
		if s.Role != role {
			continue
		}
		n++
		if n == ordinal {
			return s, true
		}
	}
	return Slot{}, false
}

// ReferenceColumn is one (role, ordinal) column of the table.
type ReferenceColumn struct {
	ID      string             `json:"id"`
	Role    core.ReferenceRole `json:"role"`
	Ordinal int                `json:"ordinal"`
	Label   string             `json:"label"`
}

// Default column roles used before any run has loaded.
var defaultRoles = map[core.EvaluationKind][]core.ReferenceRole{
	core.KindAuto:   {core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator},
	core.KindHuman:  {core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator},
	core.KindCustom: {core.RoleTestset, core.RoleApplication, core.RoleVariant, core.RoleEvaluator},
	core.KindOnline: {core.RoleQuery, core.RoleEvaluator},
	core.KindAll:    core.RolePriority,
}

// DefaultRoles returns the fallback column roles of kind.
func DefaultRoles(kind core.EvaluationKind) []core.ReferenceRole {
	if roles, ok := defaultRoles[kind]; ok {
		return slices.Clone(roles)
	}
	return slices.Clone(core.RolePriority)
}

// BuildReferenceBlueprint emits one column per (role, ordinal) observed in
// any loaded, non-skeleton row. A role seen twice in one run yields ordinal
// 1 and 2 columns even if every other run only fills the first. Without any
// loaded row it falls back to DefaultRoles(kind), one column each.
func BuildReferenceBlueprint(rows []core.RunRow, kind core.EvaluationKind) []ReferenceColumn {
	maxOrdinal := make(map[core.ReferenceRole]int)
	loaded := false

	for _, row := range rows {
		if row.IsSkeleton {
			continue
		}
		loaded = true
		counts := make(map[core.ReferenceRole]int)
		for _, slot := range BuildReferenceSequence(row.PreviewMeta) {
			counts[slot.Role]++
		}
		for role, n := range counts {
			maxOrdinal[role] = max(maxOrdinal[role], n)
		}
	}

	if !loaded {
		roles := DefaultRoles(kind)
		cols := make([]ReferenceColumn, 0, len(roles))
		for _, role := range roles {
			cols = append(cols, newReferenceColumn(role, 1, 1))
		}
		return cols
	}

	var cols []ReferenceColumn
	for _, role := range core.RolePriority {
		n := maxOrdinal[role]
		for ord := 1; ord <= n; ord++ {
			cols = append(cols, newReferenceColumn(role, ord, n))
		}
	}
	return cols
}

// ReferenceCell returns the value shown for col in row.
func ReferenceCell(row core.RunRow, col ReferenceColumn) (core.ReferenceValue, bool) {
	if row.IsSkeleton {
		return core.ReferenceValue{}, false
	}
	slot, ok := SlotByRoleOrdinal(BuildReferenceSequence(row.PreviewMeta), col.Role, col.Ordinal)
	if !ok {
		return core.ReferenceValue{}, false
	}
	return slot.Primary()
}

// RoleLabel returns the display name of a role.
func RoleLabel(role core.ReferenceRole) string {
	return cases.Title(language.English).String(string(role))
}

func newReferenceColumn(role core.ReferenceRole, ordinal, count int) ReferenceColumn {
	label := RoleLabel(role)
	if count > 1 {
		label = fmt.Sprintf("%s #%d", label, ordinal)
	}
	return ReferenceColumn{
		ID:      fmt.Sprintf("ref:%s:%d", role, ordinal),
		Role:    role,
		Ordinal: ordinal,
		Label:   label,
	}
}
