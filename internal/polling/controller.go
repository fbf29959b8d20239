// Package polling refetches a run table in the background while any visible
// run is still in progress.
package polling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/runboard/pkg/core"
)

// DefaultInterval is the refetch period when none is configured.
const DefaultInterval = 5 * time.Second

// State of a Controller.
type State int

// Controller states.
const (
	Idle State = iota
	Polling
)

func (s State) String() string {
	if s == Polling {
		return "polling"
	}
	return "idle"
}

// Config configures a Controller.
type Config struct {
	Interval time.Duration

	// Refetch runs once per tick while polling. It must refetch in the
	// background without dropping the rows already shown.
	Refetch func(ctx context.Context) error

	Logger *slog.Logger
}

// Controller switches between Idle and Polling from the rows it observes.
// At most one ticker goroutine runs per Controller.
type Controller struct {
	cfg Config

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// New returns an idle controller.
func New(cfg Config) *Controller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Controller{cfg: cfg}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ShouldPoll reports whether any non-skeleton row is in progress.
func ShouldPoll(rows []core.RunRow) bool {
	for _, r := range rows {
		if !r.IsSkeleton && r.Status.IsInProgress() {
			return true
		}
	}
	return false
}

// Observe starts polling when rows contain an in-progress run and stops it
// as soon as none does. Stopping cancels the ticker without waiting for it,
// so Observe may be called from within Refetch. It is a no-op after Close.
func (c *Controller) Observe(rows []core.RunRow) State {
	want := ShouldPoll(rows)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Idle
	}
	switch {
	case want && c.state == Idle:
		c.startLocked()
		c.mu.Unlock()
		c.cfg.Logger.Debug("polling started", slog.Duration("interval", c.cfg.Interval))
		return Polling
	case !want && c.state == Polling:
		c.stopLocked()
		c.mu.Unlock()
		c.cfg.Logger.Debug("polling stopped")
		return Idle
	default:
		s := c.state
		c.mu.Unlock()
		return s
	}
}

// Close stops polling for good and waits for the ticker goroutine to exit.
// It must not be called from Refetch.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.state == Polling {
		c.stopLocked()
	}
	done := c.done
	c.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (c *Controller) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.state = Polling
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx, c.done)
}

func (c *Controller) stopLocked() {
	c.state = Idle
	c.cancel()
	c.cancel = nil
}

func (c *Controller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		if c.cfg.Refetch == nil {
			continue
		}
		if err := c.cfg.Refetch(ctx); err != nil && ctx.Err() == nil {
			c.cfg.Logger.Warn("background refetch failed", slog.String("error", err.Error()))
		}
	}
}
