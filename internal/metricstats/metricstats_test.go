package metricstats

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/blueprint"
	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/pkg/core"
)

func f(v float64) *float64 { return &v }

func TestLoader_StatsCachesPerScope(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.Stats[testutil.StatsKey("r1", "outputs.score", "eval")] = &core.BasicStats{Mean: f(0.5)}
	l := NewLoader(api, nil, testutil.NewTestLogger(t))
	ctx := context.Background()
	req := Request{RunID: "r1", MetricPath: "outputs.score", StepKey: "eval"}

	res, err := l.Stats(ctx, "p1", req)
	require.NoError(t, err)
	require.NotNil(t, res.Stats)
	assert.InDelta(t, 0.5, *res.Stats.Mean, 1e-9)

	_, err = l.Stats(ctx, "p1", req)
	require.NoError(t, err)
	assert.Equal(t, 1, api.Calls("GetMetricStats"))

	_, err = l.Stats(ctx, "p2", req)
	require.NoError(t, err)
	assert.Equal(t, 2, api.Calls("GetMetricStats"), "scopes never share entries")
}

func TestLoader_Unavailable(t *testing.T) {
	api := testutil.NewFakeAPI()
	l := NewLoader(api, nil, testutil.NewTestLogger(t))

	res, err := l.Stats(context.Background(), "p1", Request{RunID: "r1", MetricKey: "score"})
	require.NoError(t, err)
	assert.True(t, res.Unavailable)
	assert.Nil(t, res.Stats)
	assert.Equal(t, Placeholder, FormatStat(res.Stats))
}

func TestLoader_ErrorsAreNotCached(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.StatsErr = errors.New("timeout")
	l := NewLoader(api, nil, testutil.NewTestLogger(t))
	req := Request{RunID: "r1", MetricKey: "score"}

	_, err := l.Stats(context.Background(), "p1", req)
	require.Error(t, err)
	_, ok := l.Cached("p1", req)
	assert.False(t, ok)
}

func TestLoader_Refetch(t *testing.T) {
	api := testutil.NewFakeAPI()
	key1 := testutil.StatsKey("r1", "score", "")
	key2 := testutil.StatsKey("r2", "score", "")
	api.Stats[key1] = &core.BasicStats{Mean: f(1)}
	api.Stats[key2] = &core.BasicStats{Mean: f(2)}
	l := NewLoader(api, nil, testutil.NewTestLogger(t))
	ctx := context.Background()

	r1 := Request{RunID: "r1", MetricPath: "score"}
	r2 := Request{RunID: "r2", MetricPath: "score"}
	_, err := l.Stats(ctx, "p1", r1)
	require.NoError(t, err)
	_, err = l.Stats(ctx, "p1", r2)
	require.NoError(t, err)

	api.Stats[key1] = &core.BasicStats{Mean: f(10)}
	api.Stats[key2] = &core.BasicStats{Mean: f(20)}
	require.NoError(t, l.Refetch(ctx, "p1", []string{"r1"}))

	res, ok := l.Cached("p1", r1)
	require.True(t, ok)
	assert.InDelta(t, 10, *res.Stats.Mean, 1e-9)
	res, ok = l.Cached("p1", r2)
	require.True(t, ok)
	assert.InDelta(t, 2, *res.Stats.Mean, 1e-9, "runs outside the set keep their value")

	require.NoError(t, l.Refetch(ctx, "p1", nil))
	res, _ = l.Cached("p1", r2)
	assert.InDelta(t, 20, *res.Stats.Mean, 1e-9)
	assert.Equal(t, 5, api.Calls("GetMetricStats"))

	l.InvalidateScope("p1")
	_, ok = l.Cached("p1", r1)
	assert.False(t, ok)
}

func TestOutputTypes_Probe(t *testing.T) {
	api := testutil.NewFakeAPI()
	api.OutputTypes[testutil.OutputTypeKey("judge", "reason")] = "string"
	o := NewOutputTypes(api, nil, testutil.NewTestLogger(t))
	ref := &blueprint.EvaluatorRef{Slug: "judge"}

	descs := []*blueprint.MetricDescriptor{
		{ID: "judge:score", MetricKey: "score", Kind: blueprint.MetricKindEvaluator, OutputType: "number", EvaluatorRef: ref},
		{ID: "judge:reason", MetricKey: "reason", Kind: blueprint.MetricKindEvaluator, EvaluatorRef: ref},
		{ID: "judge:unknown", MetricKey: "unknown", Kind: blueprint.MetricKindEvaluator, EvaluatorRef: ref},
		{ID: "invocation:cost", MetricKey: "cost", Kind: blueprint.MetricKindInvocation},
	}

	added, err := o.Probe(context.Background(), "scope", "p1", descs)
	require.NoError(t, err)
	assert.Equal(t, 2, added)
	assert.Equal(t, 2, api.Calls("ProbeOutputType"))

	lookup := o.Lookup("scope")
	typ, ok := lookup(descs[1])
	require.True(t, ok)
	assert.Equal(t, "string", typ)
	_, ok = lookup(descs[2])
	assert.False(t, ok)

	_, ok = o.Lookup("other-scope")(descs[1])
	assert.False(t, ok)

	visible := blueprint.Descriptors(blueprint.Visible([]*blueprint.MetricGroup{{ID: "judge", Metrics: descs[:3]}}, lookup))
	for _, d := range visible {
		assert.NotEqual(t, "judge:reason", d.ID)
	}

	// Cached entries are not probed again.
	_, err = o.Probe(context.Background(), "scope", "p1", descs)
	require.NoError(t, err)
	assert.Equal(t, 3, api.Calls("ProbeOutputType"), "only the still unknown metric is probed")
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		in   *float64
		want string
	}{
		{"nil", nil, Placeholder},
		{"nan", f(math.NaN()), Placeholder},
		{"inf", f(math.Inf(1)), Placeholder},
		{"integer", f(1234567), "1,234,567"},
		{"decimal", f(1234.5678), "1,234.57"},
		{"small", f(0.5), "0.5"},
		{"zero", f(0), "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatNumber(tt.in))
		})
	}
}

func TestFormatStat(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		stats *core.BasicStats
		want  string
	}{
		{"nil", "", nil, Placeholder},
		{"empty", "", &core.BasicStats{}, Placeholder},
		{"mean", "", &core.BasicStats{Mean: f(0.75), Count: f(4)}, "0.75"},
		{"nan mean falls back to median", "", &core.BasicStats{Mean: f(math.NaN()), Median: f(3)}, "3"},
		{"frequency", "", &core.BasicStats{Frequency: []core.FreqEntry{{Value: false, Count: 1}, {Value: true, Count: 3}}}, "true (75.0%)"},
		{"count only", "", &core.BasicStats{Count: f(12)}, "12"},
		{"cost", "cost", &core.BasicStats{Mean: f(0.0012)}, "$0.0012"},
		{"latency", "latency", &core.BasicStats{Mean: f(1530)}, "1.5s"},
		{"duration minutes", "duration", &core.BasicStats{Mean: f(125_000)}, "2m5s"},
		{"duration ms", "duration", &core.BasicStats{Mean: f(42)}, "42ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatStatFor(tt.key, tt.stats))
		})
	}
}
