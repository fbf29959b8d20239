package metricstats

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// Placeholder is rendered for missing or non-finite values.
const Placeholder = "—"

// FormatNumber renders v with thousands separators and at most two
// decimals. Nil, NaN and infinite values render as Placeholder.
func FormatNumber(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Placeholder
	}
	if *v == math.Trunc(*v) && math.Abs(*v) < 1e15 {
		return humanize.Comma(int64(*v))
	}
	return humanize.CommafWithDigits(*v, 2)
}

// FormatPercent renders a 0..1 ratio as a percentage.
func FormatPercent(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Placeholder
	}
	return strconv.FormatFloat(*v*100, 'f', 1, 64) + "%"
}

// FormatCost renders a dollar amount.
func FormatCost(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return Placeholder
	}
	if *v != 0 && math.Abs(*v) < 0.01 {
		return "$" + strconv.FormatFloat(*v, 'f', 4, 64)
	}
	return "$" + humanize.CommafWithDigits(*v, 2)
}

// FormatDurationMS renders milliseconds as ms, seconds or minutes.
func FormatDurationMS(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
		return Placeholder
	}
	ms := *v
	switch {
	case ms < 1000:
		return strconv.FormatFloat(ms, 'f', 0, 64) + "ms"
	case ms < 60_000:
		return strconv.FormatFloat(ms/1000, 'f', 1, 64) + "s"
	default:
		d := time.Duration(ms) * time.Millisecond
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// FormatStat renders the headline value of stats: the mean when present,
// then the median, then the most frequent value, then the count.
func FormatStat(s *core.BasicStats) string {
	return FormatStatFor("", s)
}

// FormatStatFor is FormatStat with unit formatting for the invocation
// metrics cost, duration and latency.
func FormatStatFor(metricKey string, s *core.BasicStats) string {
	if s == nil {
		return Placeholder
	}
	num := FormatNumber
	switch metricKey {
	case "cost":
		num = FormatCost
	case "duration", "latency":
		num = FormatDurationMS
	}

	switch {
	case validNumber(s.Mean):
		return num(s.Mean)
	case validNumber(s.Median):
		return num(s.Median)
	case len(s.Frequency) > 0:
		return formatTopFrequency(s.Frequency)
	case len(s.Rank) > 0:
		return formatTopFrequency(s.Rank)
	case validNumber(s.Sum):
		return num(s.Sum)
	case validNumber(s.Count):
		return FormatNumber(s.Count)
	default:
		return Placeholder
	}
}

func validNumber(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

// formatTopFrequency renders the most frequent value and its share, e.g. "true (75.0%)".
func formatTopFrequency(entries []core.FreqEntry) string {
	sorted := append([]core.FreqEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Count > sorted[j].Count })

	total := 0.0
	for _, e := range sorted {
		total += e.Count
	}
	top := sorted[0]
	value := formatValue(top.Value)
	if total <= 0 {
		return value
	}
	share := top.Count / total
	return value + " (" + FormatPercent(&share) + ")"
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return Placeholder
	case string:
		if strings.TrimSpace(t) == "" {
			return Placeholder
		}
		return t
	case float64:
		return FormatNumber(&t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
