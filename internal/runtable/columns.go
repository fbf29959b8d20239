package runtable

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/leapstack-labs/runboard/internal/blueprint"
	"github.com/leapstack-labs/runboard/internal/export"
	"github.com/leapstack-labs/runboard/internal/metricstats"
	"github.com/leapstack-labs/runboard/internal/rowload"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Fixed column ids.
const (
	ColumnRunName   = "runName"
	ColumnStatus    = "status"
	ColumnCreatedBy = "createdBy"
	ColumnCreatedAt = "createdAt"
)

// ColumnSet is the materialized column layout of the table.
type ColumnSet struct {
	References []blueprint.ReferenceColumn `json:"references"`
	Metrics    []*blueprint.MetricGroup    `json:"metrics"`
}

// Flatten returns the columns in display order with their export metadata:
// name and status, one column per reference slot, one per visible metric,
// then creator and creation time.
func (cs ColumnSet) Flatten() []export.Column {
	cols := []export.Column{
		{ID: ColumnRunName, Label: "Name", Meta: export.Meta{Kind: export.KindRunName}},
		{ID: ColumnStatus, Label: "Status", Meta: export.Meta{Kind: export.KindPlain, Field: export.FieldStatus}},
	}
	for _, rc := range cs.References {
		cols = append(cols, export.Column{
			ID:    rc.ID,
			Label: rc.Label,
			Meta:  export.Meta{Kind: export.KindReference, Role: rc.Role, Ordinal: rc.Ordinal},
		})
	}
	for _, g := range cs.Metrics {
		for _, d := range g.Metrics {
			cols = append(cols, export.Column{
				ID:    "metric:" + d.ID,
				Label: metricHeader(g.Label, d.Label),
				Meta: export.Meta{
					Kind:      export.KindMetric,
					GroupID:   g.ID,
					MetricID:  d.ID,
					MetricKey: d.MetricKey,
				},
			})
		}
	}
	return append(cols,
		export.Column{ID: ColumnCreatedBy, Label: "Created by", Meta: export.Meta{Kind: export.KindCreatedBy}},
		export.Column{ID: ColumnCreatedAt, Label: "Created at", Meta: export.Meta{Kind: export.KindPlain, Field: export.FieldCreatedAt}},
	)
}

func metricHeader(group, metric string) string {
	if group == "" {
		return metric
	}
	return group + " / " + metric
}

// Columns derives the column layout from the loaded rows. Reference columns
// follow the (role, ordinal) slots observed so far. Metric columns only grow
// within a scope, and metrics whose output type resolves to string are
// hidden.
func (t *Table) Columns() ColumnSet {
	p := t.sync()
	rows := p.Resolved()
	groups := t.metrics.Build(p.ScopeID(), rows, t.cfg.Kind)
	return ColumnSet{
		References: blueprint.BuildReferenceBlueprint(rows, t.cfg.Kind),
		Metrics:    blueprint.Visible(groups, t.outputTypes.Lookup(t.cfg.ProjectID)),
	}
}

func (t *Table) descriptor(metricID string) (*blueprint.MetricDescriptor, bool) {
	p := t.sync()
	groups := t.metrics.Build(p.ScopeID(), p.Resolved(), t.cfg.Kind)
	for _, d := range blueprint.Descriptors(groups) {
		if d.ID == metricID {
			return d, true
		}
	}
	return nil, false
}

// Cell is the display state of one table cell.
type Cell struct {
	Text    string `json:"text"`
	Loading bool   `json:"loading,omitempty"`
	Stale   bool   `json:"stale,omitempty"`
}

func placeholder() Cell { return Cell{Text: metricstats.Placeholder} }

// Cell returns what the table shows for col in row. Values not fetched yet
// start loading in the background; subscribers are pinged once they land.
func (t *Table) Cell(ctx context.Context, row core.RunRow, col export.Column) Cell {
	if row.IsSkeleton {
		return Cell{Loading: true}
	}
	switch col.Meta.Kind {
	case export.KindReference:
		text, loading := t.referenceText(ctx, row, col, false)
		return Cell{Text: text, Loading: loading}
	case export.KindMetric:
		return t.metricCell(ctx, row, col)
	case export.KindRunName:
		if row.Name != "" {
			return Cell{Text: row.Name}
		}
		return t.summaryCell(ctx, row, func(s *core.RunSummary) string { return s.Name })
	case export.KindCreatedBy:
		if row.CreatedByID != "" {
			return Cell{Text: row.CreatedByID}
		}
		return t.summaryCell(ctx, row, func(s *core.RunSummary) string { return s.CreatedByID })
	default:
		text := export.FormatValue(export.DefaultValue(col, row))
		if text == "" {
			return placeholder()
		}
		return Cell{Text: text}
	}
}

func (t *Table) ref(row core.RunRow) core.RunRef {
	projectID := row.ProjectID
	if projectID == "" {
		projectID = t.cfg.ProjectID
	}
	return core.RunRef{ProjectID: projectID, RunID: row.RunID}
}

// Row returns the lazily loading context of a visible row.
func (t *Table) Row(row core.RunRow) *rowload.RowContext {
	return t.rows.Mount(t.ref(row))
}

// Unmount forgets the row context of a row that left the viewport.
func (t *Table) Unmount(row core.RunRow) {
	t.rows.Unmount(t.ref(row))
}

func (t *Table) summaryCell(ctx context.Context, row core.RunRow, field func(*core.RunSummary) string) Cell {
	rc := t.Row(row)
	rc.EnsureSummary(ctx)
	v := rc.Summary()
	if v.Value != nil {
		if text := field(v.Value); text != "" {
			return Cell{Text: text, Stale: v.Stale}
		}
	}
	if v.Loading {
		return Cell{Loading: true}
	}
	return placeholder()
}

func (t *Table) metricCell(ctx context.Context, row core.RunRow, col export.Column) Cell {
	d, ok := t.descriptor(col.Meta.MetricID)
	if !ok {
		return placeholder()
	}
	ref := t.ref(row)
	req := statsRequest(d, ref.RunID)
	if res, ok := t.stats.Cached(ref.ProjectID, req); ok {
		return Cell{Text: metricstats.FormatStatFor(d.MetricKey, res.Stats)}
	}
	lookupID := "stats:" + req.ID()
	switch state, started := t.startLookup(ref.ProjectID, lookupID); {
	case state == lookupFailed:
		return placeholder()
	case !started:
		return Cell{Text: metricstats.Placeholder, Loading: true}
	}
	go func() {
		_, err := t.stats.Stats(context.WithoutCancel(ctx), ref.ProjectID, req)
		if err != nil {
			t.logger.Debug("metric stats failed",
				slog.String("run", ref.RunID),
				slog.String("metric", d.ID),
				slog.String("error", err.Error()))
		}
		t.endLookup(ref.ProjectID, lookupID, err)
		t.notifier.Broadcast()
	}()
	return Cell{Text: metricstats.Placeholder, Loading: true}
}

func statsRequest(d *blueprint.MetricDescriptor, runID string) metricstats.Request {
	path, step := d.PathFor(runID)
	return metricstats.Request{RunID: runID, MetricKey: d.MetricKey, MetricPath: path, StepKey: step}
}

// referenceText renders a reference cell. Values without a human-readable
// name are resolved through the label cache; wait blocks on the lookup,
// otherwise it runs in the background and loading is true.
func (t *Table) referenceText(ctx context.Context, row core.RunRow, col export.Column, wait bool) (text string, loading bool) {
	v, ok := blueprint.ReferenceCell(row, blueprint.ReferenceColumn{Role: col.Meta.Role, Ordinal: col.Meta.Ordinal})
	if !ok {
		return metricstats.Placeholder, false
	}
	if v.Label != "" || v.Name != "" || v.ID == "" {
		return v.Display(), false
	}
	projectID := t.ref(row).ProjectID
	if label, ok := t.labels.Get(projectID, labelID(col.Meta.Role, v.ID)); ok {
		return label, false
	}
	if wait {
		label, _ := t.resolveLabel(ctx, projectID, col.Meta.Role, v.ID, v.Display())
		return label, false
	}
	lookupID := "label:" + labelID(col.Meta.Role, v.ID)
	switch state, started := t.startLookup(projectID, lookupID); {
	case state == lookupFailed:
		return v.Display(), false
	case !started:
		return v.Display(), true
	}
	go func() {
		_, err := t.resolveLabel(context.WithoutCancel(ctx), projectID, col.Meta.Role, v.ID, v.Display())
		t.endLookup(projectID, lookupID, err)
		t.notifier.Broadcast()
	}()
	return v.Display(), true
}

type lookupState int

const (
	lookupPending lookupState = iota
	lookupFailed
)

// startLookup marks the background lookup id of projectID as pending and
// reports true when the caller should run it. A lookup that is pending or
// failed since the last refetch is not started again; its state is returned.
func (t *Table) startLookup(projectID, id string) (lookupState, bool) {
	t.lookupMu.Lock()
	defer t.lookupMu.Unlock()
	if state, ok := t.lookups.Get(projectID, id); ok {
		return state, false
	}
	t.lookups.Set(projectID, id, lookupPending)
	return lookupPending, true
}

// endLookup settles a lookup started by startLookup. Failures are kept until
// the next refetch; successful lookups are read from their cache from now on.
func (t *Table) endLookup(projectID, id string, err error) {
	t.lookupMu.Lock()
	defer t.lookupMu.Unlock()
	if err != nil {
		t.lookups.Set(projectID, id, lookupFailed)
		return
	}
	t.lookups.Invalidate(projectID, id)
}

func labelID(role core.ReferenceRole, id string) string {
	return string(role) + "/" + id
}

// resolveLabel fetches and caches the label of one referenced entity. A
// missing entity caches fallback so it is not asked for again. Other errors
// return fallback along with the error, and nothing is cached.
func (t *Table) resolveLabel(ctx context.Context, projectID string, role core.ReferenceRole, id, fallback string) (string, error) {
	key := labelID(role, id)
	v, err, _ := t.labelGroup.Do(projectID+"::"+key, func() (any, error) {
		label, err := t.cfg.API.GetReferenceLabel(ctx, core.LabelRequest{ProjectID: projectID, Role: role, ID: id})
		switch {
		case err == nil && label != "":
			t.labels.Set(projectID, key, label)
			return label, nil
		case err == nil || errors.Is(err, core.ErrNotFound):
			t.labels.Set(projectID, key, fallback)
			return fallback, nil
		default:
			t.logger.Debug("reference label failed",
				slog.String("role", string(role)),
				slog.String("id", id),
				slog.String("error", err.Error()))
			return fallback, err
		}
	})
	return v.(string), err
}

// exportValue resolves one export cell through the same lookups as Cell,
// waiting for values that are not cached yet.
func (t *Table) exportValue(ctx context.Context, col export.Column, row core.RunRow) any {
	switch col.Meta.Kind {
	case export.KindReference:
		text, _ := t.referenceText(ctx, row, col, true)
		if text == metricstats.Placeholder {
			return nil
		}
		return text
	case export.KindMetric:
		d, ok := t.descriptor(col.Meta.MetricID)
		if !ok {
			return nil
		}
		ref := t.ref(row)
		res, err := t.stats.Stats(ctx, ref.ProjectID, statsRequest(d, ref.RunID))
		if err != nil || res.Stats == nil {
			return nil
		}
		if m := res.Stats.Mean; m != nil && !math.IsNaN(*m) && !math.IsInf(*m, 0) {
			return *m
		}
		text := metricstats.FormatStatFor(d.MetricKey, res.Stats)
		if text == metricstats.Placeholder {
			return nil
		}
		return text
	case export.KindRunName, export.KindCreatedBy:
		if v := export.DefaultValue(col, row); v != nil && v != "" {
			return v
		}
		s, err := t.rows.Summary(ctx, t.ref(row))
		if err != nil || s == nil {
			return export.Skip
		}
		if col.Meta.Kind == export.KindRunName && s.Name != "" {
			return s.Name
		}
		if col.Meta.Kind == export.KindCreatedBy && s.CreatedByID != "" {
			return s.CreatedByID
		}
		return export.Skip
	default:
		return export.Skip
	}
}

// exportLabel resolves evaluator group names that the loaded rows did not
// carry.
func (t *Table) exportLabel(ctx context.Context, col export.Column) (string, error) {
	if col.Meta.Kind != export.KindMetric {
		return "", nil
	}
	d, ok := t.descriptor(col.Meta.MetricID)
	if !ok || d.EvaluatorRef == nil || d.EvaluatorRef.Name != "" || d.EvaluatorRef.ID == "" {
		return "", nil
	}
	name, _ := t.resolveLabel(ctx, t.cfg.ProjectID, core.RoleEvaluator, d.EvaluatorRef.ID, d.EvaluatorRef.GroupKey())
	return metricHeader(name, d.Label), nil
}
