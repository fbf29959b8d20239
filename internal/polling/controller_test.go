package polling

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/pkg/core"
)

func rows(statuses ...core.RunStatus) []core.RunRow {
	out := make([]core.RunRow, len(statuses))
	for i, s := range statuses {
		out[i] = core.RunRow{Key: string(rune('a' + i)), Status: s}
	}
	return out
}

func TestShouldPoll(t *testing.T) {
	tests := []struct {
		name string
		rows []core.RunRow
		want bool
	}{
		{"empty", nil, false},
		{"all terminal", rows(core.RunStatusSuccess, core.RunStatusFailure, core.RunStatusCancelled), false},
		{"one running", rows(core.RunStatusSuccess, core.RunStatusRunning), true},
		{"pending", rows(core.RunStatusPending), true},
		{"skeletons are ignored", []core.RunRow{{IsSkeleton: true, Status: core.RunStatusRunning}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldPoll(tt.rows))
		})
	}
}

func TestController_StartsAndStops(t *testing.T) {
	var calls atomic.Int32
	c := New(Config{
		Interval: 10 * time.Millisecond,
		Refetch: func(context.Context) error {
			calls.Add(1)
			return nil
		},
		Logger: testutil.NewTestLogger(t),
	})
	defer c.Close()

	assert.Equal(t, Idle, c.State())
	assert.Equal(t, Polling, c.Observe(rows(core.RunStatusRunning)))
	assert.Equal(t, Polling, c.Observe(rows(core.RunStatusRunning, core.RunStatusStarted)), "one interval per controller")

	assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, Idle, c.Observe(rows(core.RunStatusSuccess)))
	// Let an in-flight tick drain, then make sure nothing else is scheduled.
	time.Sleep(30 * time.Millisecond)
	settled := calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, calls.Load(), "no refetch after every run is terminal")
}

func TestController_ObserveFromRefetch(t *testing.T) {
	var c *Controller
	var calls atomic.Int32
	c = New(Config{
		Interval: 5 * time.Millisecond,
		Refetch: func(context.Context) error {
			calls.Add(1)
			c.Observe(rows(core.RunStatusSuccess))
			return nil
		},
	})
	defer c.Close()

	c.Observe(rows(core.RunStatusRunning))
	assert.Eventually(t, func() bool { return c.State() == Idle }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestController_CloseStopsForGood(t *testing.T) {
	var calls atomic.Int32
	c := New(Config{
		Interval: 5 * time.Millisecond,
		Refetch: func(context.Context) error {
			calls.Add(1)
			return errors.New("ignored")
		},
		Logger: testutil.NewTestLogger(t),
	})

	c.Observe(rows(core.RunStatusRunning))
	assert.Eventually(t, func() bool { return calls.Load() > 0 }, time.Second, time.Millisecond)

	c.Close()
	after := calls.Load()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, Idle, c.Observe(rows(core.RunStatusRunning)), "observe after close is a no-op")

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestNew_DefaultInterval(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, DefaultInterval, c.cfg.Interval)
	assert.Equal(t, "idle", c.State().String())
	assert.Equal(t, "polling", Polling.String())
}
