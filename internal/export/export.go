// Package export turns the materialized columns and rows of a run table
// into CSV records.
//
// Each cell goes through a caller-supplied Resolver first. A resolver that
// returns Skip defers to DefaultValue, which reads the same accessors the
// table uses for display, so an export always matches what is on screen.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/runboard/internal/blueprint"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// Kind tags a column with how its values are resolved.
type Kind string

// Column kinds.
const (
	KindReference Kind = "reference"
	KindMetric    Kind = "metric"
	KindCreatedBy Kind = "createdBy"
	KindRunName   Kind = "runName"
	KindPlain     Kind = "plain"
)

// Plain column fields.
const (
	FieldRunID     = "runId"
	FieldStatus    = "status"
	FieldCreatedAt = "createdAt"
	FieldAppID     = "appId"
	FieldSource    = "source"
	FieldKind      = "evaluationKind"
)

// Meta is the export metadata attached to a column.
type Meta struct {
	Kind      Kind               `json:"kind"`
	Role      core.ReferenceRole `json:"role,omitempty"`
	Ordinal   int                `json:"ordinal,omitempty"`
	GroupID   string             `json:"groupId,omitempty"`
	MetricID  string             `json:"metricId,omitempty"`
	MetricKey string             `json:"metricKey,omitempty"`
	Field     string             `json:"field,omitempty"`
}

// Column is one exported column.
type Column struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Meta  Meta   `json:"meta"`
}

type skipValue struct{}

// Skip is returned by a Resolver to fall back to DefaultValue.
var Skip any = skipValue{}

// Resolver returns the value of one cell, or Skip.
type Resolver func(ctx context.Context, col Column, row core.RunRow) any

// Labeler resolves the header label of a column. An error or empty label
// keeps Column.Label.
type Labeler func(ctx context.Context, col Column) (string, error)

// labelConcurrency bounds parallel header lookups.
const labelConcurrency = 4

// Exporter writes rows as CSV.
type Exporter struct {
	Resolve Resolver
	Label   Labeler
	Logger  *slog.Logger
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

// Headers resolves every column label concurrently.
func (e *Exporter) Headers(ctx context.Context, cols []Column) []string {
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.Label
	}
	if e.Label == nil {
		return headers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(labelConcurrency)
	for i, col := range cols {
		g.Go(func() error {
			label, err := e.Label(gctx, col)
			if err != nil {
				e.logger().Debug("header label fallback",
					slog.String("column", col.ID),
					slog.String("error", err.Error()))
				return nil
			}
			if label != "" {
				headers[i] = label
			}
			return nil
		})
	}
	_ = g.Wait()
	return headers
}

// Records returns one record per resolved row. Skeleton rows are left out.
func (e *Exporter) Records(ctx context.Context, cols []Column, rows []core.RunRow) [][]string {
	var records [][]string
	for _, row := range rows {
		if row.IsSkeleton {
			continue
		}
		rec := make([]string, len(cols))
		for i, col := range cols {
			rec[i] = FormatValue(e.value(ctx, col, row))
		}
		records = append(records, rec)
	}
	return records
}

// WriteCSV writes a header line and one line per resolved row.
func (e *Exporter) WriteCSV(ctx context.Context, w io.Writer, cols []Column, rows []core.RunRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(e.Headers(ctx, cols)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(e.Records(ctx, cols, rows)); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func (e *Exporter) value(ctx context.Context, col Column, row core.RunRow) any {
	if e.Resolve != nil {
		v := e.Resolve(ctx, col, row)
		if _, skip := v.(skipValue); !skip {
			return v
		}
	}
	return DefaultValue(col, row)
}

// DefaultValue returns the value the table displays for col in row.
func DefaultValue(col Column, row core.RunRow) any {
	switch col.Meta.Kind {
	case KindReference:
		v, ok := blueprint.ReferenceCell(row, blueprint.ReferenceColumn{
			Role:    col.Meta.Role,
			Ordinal: col.Meta.Ordinal,
		})
		if !ok {
			return nil
		}
		return v.Display()
	case KindRunName:
		if row.Name != "" {
			return row.Name
		}
		return row.RunID
	case KindCreatedBy:
		return row.CreatedByID
	case KindPlain:
		return plainValue(col.Meta.Field, row)
	default:
		return nil
	}
}

func plainValue(field string, row core.RunRow) any {
	switch field {
	case FieldRunID:
		return row.RunID
	case FieldStatus:
		return string(row.Status)
	case FieldCreatedAt:
		if row.CreatedAt.IsZero() {
			return nil
		}
		return row.CreatedAt
	case FieldAppID:
		return row.AppID
	case FieldSource:
		return row.Source
	case FieldKind:
		return string(row.EvaluationKind)
	default:
		return nil
	}
}

// FormatValue renders a resolved cell value as CSV text.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *float64:
		if t == nil {
			return ""
		}
		return strconv.FormatFloat(*t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}
