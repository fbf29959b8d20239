package metricstats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/runboard/internal/blueprint"
	"github.com/leapstack-labs/runboard/internal/cache"
	"github.com/leapstack-labs/runboard/pkg/core"
)

// OutputTypes caches the resolved output type of metric descriptors per scope.
type OutputTypes struct {
	api    core.RunsAPI
	cache  *cache.Scoped[string]
	logger *slog.Logger
}

// NewOutputTypes returns an output type cache backed by c.
func NewOutputTypes(api core.RunsAPI, c *cache.Scoped[string], logger *slog.Logger) *OutputTypes {
	if c == nil {
		c = cache.New[string](0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &OutputTypes{api: api, cache: c, logger: logger}
}

// Lookup returns a blueprint.OutputTypeLookup reading scopeID's entries.
func (o *OutputTypes) Lookup(scopeID string) blueprint.OutputTypeLookup {
	return func(d *blueprint.MetricDescriptor) (string, bool) {
		return o.cache.Get(scopeID, d.ID)
	}
}

// Probe resolves the output type of every evaluator descriptor not cached
// yet: declared types are taken as is, the rest are asked from the backend.
// Unknown metrics are skipped. It returns how many types were added.
func (o *OutputTypes) Probe(ctx context.Context, scopeID, projectID string, descs []*blueprint.MetricDescriptor) (int, error) {
	var pending []*blueprint.MetricDescriptor
	added := 0
	for _, d := range descs {
		if d.Kind != blueprint.MetricKindEvaluator {
			continue
		}
		if _, ok := o.cache.Get(scopeID, d.ID); ok {
			continue
		}
		if d.OutputType != "" {
			o.cache.Set(scopeID, d.ID, d.OutputType)
			added++
			continue
		}
		if d.EvaluatorRef == nil || d.EvaluatorRef.GroupKey() == "" {
			continue
		}
		pending = append(pending, d)
	}
	if len(pending) == 0 {
		return added, nil
	}

	results := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(refetchConcurrency)
	for i, d := range pending {
		g.Go(func() error {
			t, err := o.api.ProbeOutputType(gctx, core.OutputTypeRequest{
				ProjectID:     projectID,
				EvaluatorSlug: d.EvaluatorRef.GroupKey(),
				MetricPath:    d.MetricKey,
			})
			if errors.Is(err, core.ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("probe output type of %s: %w", d.ID, err)
			}
			results[i] = t
			return nil
		})
	}
	err := g.Wait()

	for i, t := range results {
		if t == "" {
			continue
		}
		o.cache.Set(scopeID, pending[i].ID, t)
		added++
	}
	if added > 0 {
		o.logger.Debug("output types resolved",
			slog.String("scope", scopeID),
			slog.Int("count", added))
	}
	return added, err
}

// InvalidateScope drops every cached type of scopeID.
func (o *OutputTypes) InvalidateScope(scopeID string) {
	o.cache.InvalidateScope(scopeID)
}
