// Package watch is the live terminal view of a run table.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/leapstack-labs/runboard/internal/runtable"
)

// Options configures Run.
type Options struct {
	Title string

	// Input and Output default to the terminal.
	Input  io.Reader
	Output io.Writer

	// AltScreen renders full screen and restores the terminal on exit.
	AltScreen bool

	Logger *slog.Logger
}

// Run shows t until the user quits or ctx is done. The first page is
// loaded on start and the view redraws on every change of the table.
func Run(ctx context.Context, t *runtable.Table, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	updates, unsubscribe := t.Subscribe()
	defer unsubscribe()

	m := NewModel(ctx, t, updates, opts.Title)

	progOpts := []tea.ProgramOption{tea.WithContext(ctx)}
	if opts.Input != nil {
		progOpts = append(progOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		progOpts = append(progOpts, tea.WithOutput(opts.Output))
	}
	if opts.AltScreen {
		progOpts = append(progOpts, tea.WithAltScreen())
	}

	final, err := tea.NewProgram(m, progOpts...).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("watch: %w", err)
	}
	if fm, ok := final.(Model); ok && fm.err != nil {
		opts.Logger.Debug("watch ended with error", slog.Any("error", fm.err))
	}
	return nil
}
