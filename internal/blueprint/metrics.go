package blueprint

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// MetricKind classifies a metric descriptor.
type MetricKind string

// Metric kinds.
const (
	MetricKindGeneric    MetricKind = "generic"
	MetricKindEvaluator  MetricKind = "evaluator"
	MetricKindInvocation MetricKind = "invocation"
)

// OutputTypeString marks metrics that cannot be aggregated.
const OutputTypeString = "string"

// InvocationGroupID is the id of the built-in invocation metric group.
const InvocationGroupID = "invocation"

// EvaluatorRef holds the handles of one evaluator, accumulated across runs.
type EvaluatorRef struct {
	Slug         string `json:"slug,omitempty"`
	Name         string `json:"name,omitempty"`
	ID           string `json:"id,omitempty"`
	VariantID    string `json:"variantId,omitempty"`
	VariantSlug  string `json:"variantSlug,omitempty"`
	RevisionID   string `json:"revisionId,omitempty"`
	RevisionSlug string `json:"revisionSlug,omitempty"`
	ProjectID    string `json:"projectId,omitempty"`
}

// GroupKey returns the slug, falling back to the id.
func (r EvaluatorRef) GroupKey() string {
	if r.Slug != "" {
		return r.Slug
	}
	return r.ID
}

// fill copies into r every field of o that r does not have yet.
func (r *EvaluatorRef) fill(o EvaluatorRef) {
	set := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	set(&r.Slug, o.Slug)
	set(&r.Name, o.Name)
	set(&r.ID, o.ID)
	set(&r.VariantID, o.VariantID)
	set(&r.VariantSlug, o.VariantSlug)
	set(&r.RevisionID, o.RevisionID)
	set(&r.RevisionSlug, o.RevisionSlug)
	set(&r.ProjectID, o.ProjectID)
}

// MetricDescriptor is one metric column.
type MetricDescriptor struct {
	ID                 string            `json:"id"`
	Label              string            `json:"label"`
	MetricKey          string            `json:"metricKey"`
	MetricPath         string            `json:"metricPath"`
	StepKey            string            `json:"stepKey,omitempty"`
	Kind               MetricKind        `json:"kind"`
	OutputType         string            `json:"outputType,omitempty"`
	MetricPathsByRunID map[string]string `json:"metricPathsByRunId,omitempty"`
	StepKeysByRunID    map[string]string `json:"stepKeysByRunId,omitempty"`
	EvaluatorRef       *EvaluatorRef     `json:"evaluatorRef,omitempty"`
}

// PathFor returns the metric path and step key to query for runID.
func (d *MetricDescriptor) PathFor(runID string) (path, stepKey string) {
	path, stepKey = d.MetricPath, d.StepKey
	if p, ok := d.MetricPathsByRunID[runID]; ok {
		path = p
	}
	if s, ok := d.StepKeysByRunID[runID]; ok {
		stepKey = s
	}
	return path, stepKey
}

func (d *MetricDescriptor) clone() *MetricDescriptor {
	out := *d
	out.MetricPathsByRunID = cloneMap(d.MetricPathsByRunID)
	out.StepKeysByRunID = cloneMap(d.StepKeysByRunID)
	if d.EvaluatorRef != nil {
		ref := *d.EvaluatorRef
		out.EvaluatorRef = &ref
	}
	return &out
}

// MetricGroup is a set of metric columns sharing one evaluator.
type MetricGroup struct {
	ID        string              `json:"id"`
	Label     string              `json:"label"`
	Kind      MetricKind          `json:"kind"`
	Evaluator *EvaluatorRef       `json:"evaluator,omitempty"`
	Metrics   []*MetricDescriptor `json:"metrics"`
}

func (g *MetricGroup) clone() *MetricGroup {
	out := &MetricGroup{ID: g.ID, Label: g.Label, Kind: g.Kind}
	if g.Evaluator != nil {
		ref := *g.Evaluator
		out.Evaluator = &ref
	}
	out.Metrics = make([]*MetricDescriptor, len(g.Metrics))
	for i, d := range g.Metrics {
		out.Metrics[i] = d.clone()
	}
	return out
}

var (
	indexPattern  = regexp.MustCompile(`\[(\d+)\]`)
	quotedPattern = regexp.MustCompile(`\[["']([^"']+)["']\]`)

	// Output container prefixes dropped from metric paths, longest first.
	outputPrefixes = []string{
		"attributes.ag.data.outputs.",
		"attributes.ag.data.",
		"data.outputs.",
		"outputs.",
	}
)

// CanonicalMetricPath normalizes a mapping path so that the same metric
// spelled differently by different backends maps to one key. It strips the
// JSON-path root and the output container, and turns index and slash
// notation into dots. Paths that differ past the container stay distinct.
func CanonicalMetricPath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$")
	p = strings.ReplaceAll(p, "/", ".")
	p = quotedPattern.ReplaceAllString(p, ".$1")
	p = indexPattern.ReplaceAllString(p, ".$1")
	p = strings.Trim(p, ".")
	for strings.Contains(p, "..") {
		p = strings.ReplaceAll(p, "..", ".")
	}
	for _, prefix := range outputPrefixes {
		if strings.HasPrefix(p, prefix) {
			p = strings.TrimPrefix(p, prefix)
			break
		}
	}
	return p
}

// evaluator handle chains: each field is read from the first alias object
// that has it.
type handleSource struct {
	alias string
	field string
}

var handleChains = map[string][]handleSource{
	"slug": {
		{"evaluator", "slug"}, {"evaluator", "key"},
		{"evaluator_variant", "evaluator_slug"}, {"evaluator_revision", "evaluator_slug"},
	},
	"name": {
		{"evaluator", "name"}, {"evaluator", "display_name"},
		{"evaluator_variant", "evaluator_name"}, {"evaluator_revision", "evaluator_name"},
	},
	"id": {
		{"evaluator", "id"},
		{"evaluator_variant", "evaluator_id"}, {"evaluator_revision", "evaluator_id"},
	},
	"variantId": {
		{"evaluator_variant", "id"}, {"evaluator_revision", "variant_id"},
	},
	"variantSlug": {
		{"evaluator_variant", "slug"}, {"evaluator_revision", "variant_slug"},
	},
	"revisionId": {
		{"evaluator_revision", "id"},
	},
	"revisionSlug": {
		{"evaluator_revision", "slug"}, {"evaluator_revision", "version"},
	},
	"projectId": {
		{"evaluator", "project_id"}, {"evaluator_variant", "project_id"}, {"evaluator_revision", "project_id"},
	},
}

// ResolveEvaluator reads the evaluator handles of an annotation step. A plain
// string under the evaluator alias is taken as the slug.
func ResolveEvaluator(step core.Step) EvaluatorRef {
	objects := make(map[string]map[string]any)
	for _, alias := range RoleAliases[core.RoleEvaluator] {
		raw, _, ok := lookup(step.References, alias)
		if !ok {
			continue
		}
		if obj := object(raw); obj != nil {
			objects[alias] = obj
			continue
		}
		var s string
		if alias == "evaluator" && json.Unmarshal(raw, &s) == nil && strings.TrimSpace(s) != "" {
			objects[alias] = map[string]any{"slug": s}
		}
	}

	first := func(name string) string {
		for _, src := range handleChains[name] {
			obj, ok := objects[src.alias]
			if !ok {
				continue
			}
			if v := field(obj, []string{src.field}); v != "" {
				return v
			}
		}
		return ""
	}

	return EvaluatorRef{
		Slug:         first("slug"),
		Name:         first("name"),
		ID:           first("id"),
		VariantID:    first("variantId"),
		VariantSlug:  first("variantSlug"),
		RevisionID:   first("revisionId"),
		RevisionSlug: first("revisionSlug"),
		ProjectID:    first("projectId"),
	}
}

// applyHints fills ref from the evaluator hints of a run that share its id or slug.
func applyHints(ref *EvaluatorRef, hints []core.EvaluatorHint) {
	for _, h := range hints {
		if (ref.ID != "" && h.ID == ref.ID) || (ref.Slug != "" && h.Slug == ref.Slug) {
			ref.fill(EvaluatorRef{ID: h.ID, Slug: h.Slug, Name: h.Name})
		}
	}
}

type invocationMetric struct {
	key  string
	path string
}

var invocationMetrics = []invocationMetric{
	{"cost", "attributes.ag.metrics.costs.cumulative.total"},
	{"duration", "attributes.ag.metrics.duration.cumulative"},
	{"latency", "attributes.ag.metrics.latency.cumulative"},
	{"tokens", "attributes.ag.metrics.tokens.cumulative.total"},
}

// Evaluation kinds whose runs carry invocation metrics.
var invocationKinds = map[core.EvaluationKind]bool{
	core.KindAuto:   true,
	core.KindHuman:  true,
	core.KindOnline: true,
	core.KindCustom: true,
	core.KindAll:    true,
}

// MetricBuilder derives metric groups from loaded runs. It keeps every group
// and descriptor it has emitted for a scope, so incremental loads only add
// descriptors and per-run paths. Calling Build with another scope starts over.
type MetricBuilder struct {
	mu      sync.Mutex
	scopeID string
	groups  []*MetricGroup
	byGroup map[string]*MetricGroup
	byID    map[string]*MetricDescriptor
}

// NewMetricBuilder returns an empty builder.
func NewMetricBuilder() *MetricBuilder {
	b := &MetricBuilder{}
	b.reset("")
	return b
}

func (b *MetricBuilder) reset(scopeID string) {
	b.scopeID = scopeID
	b.groups = nil
	b.byGroup = make(map[string]*MetricGroup)
	b.byID = make(map[string]*MetricDescriptor)
}

// Reset forgets every group.
func (b *MetricBuilder) Reset() {
	b.mu.Lock()
	b.reset("")
	b.mu.Unlock()
}

// Build folds rows into the blueprint of scopeID and returns a snapshot of
// its groups: evaluator groups in first-seen order, then the invocation group
// for kinds that have one.
func (b *MetricBuilder) Build(scopeID string, rows []core.RunRow, kind core.EvaluationKind) []*MetricGroup {
	b.mu.Lock()
	defer b.mu.Unlock()

	if scopeID != b.scopeID {
		b.reset(scopeID)
	}

	for _, row := range rows {
		if row.IsSkeleton || row.PreviewMeta == nil {
			continue
		}
		b.addRow(row)
	}

	out := make([]*MetricGroup, 0, len(b.groups)+1)
	for _, g := range b.groups {
		out = append(out, g.clone())
	}
	if invocationKinds[kind] {
		out = append(out, b.invocationGroup(rows))
	}
	return out
}

func (b *MetricBuilder) addRow(row core.RunRow) {
	meta := row.PreviewMeta
	evaluatorSteps := make(map[string]*MetricGroup)

	for _, step := range meta.Steps {
		if step.Type != core.StepTypeAnnotation {
			continue
		}
		ref := ResolveEvaluator(step)
		applyHints(&ref, meta.Evaluators)
		key := ref.GroupKey()
		if key == "" {
			continue
		}

		g := b.group(ref)
		if g == nil {
			r := ref
			g = &MetricGroup{ID: key, Kind: MetricKindEvaluator, Evaluator: &r}
			b.groups = append(b.groups, g)
		} else {
			g.Evaluator.fill(ref)
		}
		b.alias(g, ref)
		g.Label = groupLabel(*g.Evaluator)
		evaluatorSteps[step.Key] = g
	}

	for _, m := range meta.Mappings {
		g, ok := evaluatorSteps[m.StepKey]
		if !ok {
			continue
		}
		canonical := CanonicalMetricPath(m.Path)
		if canonical == "" {
			continue
		}
		id := g.ID + ":" + canonical

		d, ok := b.byID[id]
		if !ok {
			d = &MetricDescriptor{
				ID:                 id,
				Label:              metricLabel(m.Name, canonical),
				MetricKey:          canonical,
				MetricPath:         m.Path,
				StepKey:            m.StepKey,
				Kind:               MetricKindEvaluator,
				OutputType:         m.OutputType,
				MetricPathsByRunID: make(map[string]string),
				StepKeysByRunID:    make(map[string]string),
				EvaluatorRef:       g.Evaluator,
			}
			b.byID[id] = d
			g.Metrics = append(g.Metrics, d)
		}
		if d.OutputType == "" {
			d.OutputType = m.OutputType
		}
		if row.RunID != "" {
			d.MetricPathsByRunID[row.RunID] = m.Path
			d.StepKeysByRunID[row.RunID] = m.StepKey
		}
	}
}

// group finds the group of ref by slug, then by id. A group first seen
// under one handle is found under the other once a run carries both.
func (b *MetricBuilder) group(ref EvaluatorRef) *MetricGroup {
	for _, k := range []string{ref.Slug, ref.ID} {
		if k == "" {
			continue
		}
		if g, ok := b.byGroup[k]; ok {
			return g
		}
	}
	return nil
}

// alias registers the handles of ref for g. The group keeps its first id,
// so descriptor ids do not change when a handle turns up later.
func (b *MetricBuilder) alias(g *MetricGroup, ref EvaluatorRef) {
	for _, k := range []string{ref.Slug, ref.ID} {
		if k == "" {
			continue
		}
		if _, taken := b.byGroup[k]; !taken {
			b.byGroup[k] = g
		}
	}
}

// invocationGroup builds the invocation group, pointing each run at its
// first invocation step.
func (b *MetricBuilder) invocationGroup(rows []core.RunRow) *MetricGroup {
	stepKeys := make(map[string]string)
	for _, row := range rows {
		if row.IsSkeleton || row.PreviewMeta == nil || row.RunID == "" {
			continue
		}
		for _, step := range row.PreviewMeta.Steps {
			if step.Type == core.StepTypeInvocation {
				stepKeys[row.RunID] = step.Key
				break
			}
		}
	}

	g := &MetricGroup{ID: InvocationGroupID, Label: "Invocation", Kind: MetricKindInvocation}
	for _, m := range invocationMetrics {
		g.Metrics = append(g.Metrics, &MetricDescriptor{
			ID:                 InvocationGroupID + ":" + m.key,
			Label:              cases.Title(language.English).String(m.key),
			MetricKey:          m.key,
			MetricPath:         m.path,
			Kind:               MetricKindInvocation,
			MetricPathsByRunID: map[string]string{},
			StepKeysByRunID:    cloneMap(stepKeys),
		})
	}
	return g
}

// OutputTypeLookup resolves the output type of a descriptor from an external
// cache. ok is false when the type is not known yet.
type OutputTypeLookup func(d *MetricDescriptor) (outputType string, ok bool)

// Visible drops descriptors whose output type resolves to "string", and
// groups left without descriptors. The cache lookup wins over the type
// declared by the mapping.
func Visible(groups []*MetricGroup, lookup OutputTypeLookup) []*MetricGroup {
	out := make([]*MetricGroup, 0, len(groups))
	for _, g := range groups {
		kept := make([]*MetricDescriptor, 0, len(g.Metrics))
		for _, d := range g.Metrics {
			t := d.OutputType
			if lookup != nil {
				if resolved, ok := lookup(d); ok {
					t = resolved
				}
			}
			if strings.EqualFold(t, OutputTypeString) {
				continue
			}
			kept = append(kept, d)
		}
		if len(kept) == 0 {
			continue
		}
		ng := *g
		ng.Metrics = kept
		out = append(out, &ng)
	}
	return out
}

// Descriptors flattens groups into their descriptors, in order.
func Descriptors(groups []*MetricGroup) []*MetricDescriptor {
	var out []*MetricDescriptor
	for _, g := range groups {
		out = append(out, g.Metrics...)
	}
	return out
}

func groupLabel(ref EvaluatorRef) string {
	if ref.Name != "" {
		return ref.Name
	}
	return ref.GroupKey()
}

func metricLabel(name, canonical string) string {
	if name != "" {
		return name
	}
	if i := strings.LastIndex(canonical, "."); i >= 0 {
		return canonical[i+1:]
	}
	return canonical
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
