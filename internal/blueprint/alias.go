// Package blueprint derives the dynamic columns of a run table from the step
// graphs of loaded runs: one reference column per observed (role, ordinal)
// and one metric column per evaluator output.
//
// Step references arrive loosely typed and under many alias keys. They are
// resolved here, through explicit per-role alias tables, into
// core.ReferenceValue so nothing downstream inspects raw JSON.
package blueprint

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// RoleAliases lists, per role, the step reference keys read for that role in
// lookup order. Keys match case-insensitively and ignore '_' and '-'.
var RoleAliases = map[core.ReferenceRole][]string{
	core.RoleTestset: {
		"testset", "testset_variant", "testset_revision",
	},
	core.RoleQuery: {
		"query", "query_variant", "query_revision",
	},
	core.RoleApplication: {
		"application", "app",
	},
	core.RoleVariant: {
		"application_variant", "variant", "application_revision", "revision",
	},
	core.RoleEvaluator: {
		"evaluator", "evaluator_variant", "evaluator_revision",
	},
}

// Field alias chains of one reference object. The first non-empty wins.
var (
	idFields    = []string{"id", "uuid", "_id"}
	slugFields  = []string{"slug", "key"}
	nameFields  = []string{"name", "display_name", "title"}
	labelFields = []string{"label", "display_label"}
)

// normKey folds snake, kebab and camel spellings of a key together.
func normKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "").Replace(k)
}

// lookup returns the entry of refs whose key matches alias.
func lookup(refs map[string]json.RawMessage, alias string) (json.RawMessage, string, bool) {
	want := normKey(alias)
	if raw, ok := refs[alias]; ok {
		return raw, alias, true
	}
	for k, raw := range refs {
		if normKey(k) == want {
			return raw, k, true
		}
	}
	return nil, "", false
}

// parseValues decodes a raw reference. Objects yield one value, strings yield
// a value carrying only an id, arrays yield one value per element. Anything
// else, and values without any identity, yield nothing.
func parseValues(raw json.RawMessage, source string) []core.ReferenceValue {
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil
	}
	return valuesOf(decoded, source)
}

func valuesOf(v any, source string) []core.ReferenceValue {
	switch t := v.(type) {
	case string:
		if t = strings.TrimSpace(t); t == "" {
			return nil
		}
		return []core.ReferenceValue{{ID: t, Source: source}}
	case map[string]any:
		rv := core.ReferenceValue{
			ID:     field(t, idFields),
			Slug:   field(t, slugFields),
			Name:   field(t, nameFields),
			Label:  field(t, labelFields),
			Source: source,
		}
		if rv.Identity() == "" {
			return nil
		}
		return []core.ReferenceValue{rv}
	case []any:
		var out []core.ReferenceValue
		for _, el := range t {
			out = append(out, valuesOf(el, source)...)
		}
		return out
	default:
		return nil
	}
}

// field returns the first non-empty value of obj under any of names.
func field(obj map[string]any, names []string) string {
	for _, name := range names {
		want := normKey(name)
		for k, v := range obj {
			if normKey(k) != want {
				continue
			}
			if s := scalar(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// object decodes raw as a JSON object, or returns nil.
func object(raw json.RawMessage) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

// ResolveRole returns the reference values of role found on step, in alias
// order, de-duplicated by (source, identity).
func ResolveRole(step core.Step, role core.ReferenceRole) []core.ReferenceValue {
	if len(step.References) == 0 {
		return nil
	}
	type dedupKey struct{ source, identity string }
	seen := make(map[dedupKey]struct{})

	var out []core.ReferenceValue
	for _, alias := range RoleAliases[role] {
		raw, source, ok := lookup(step.References, alias)
		if !ok {
			continue
		}
		for _, v := range parseValues(raw, source) {
			k := dedupKey{v.Source, v.Identity()}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
