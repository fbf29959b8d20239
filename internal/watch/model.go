package watch

import (
	"context"
	"fmt"
	"slices"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/leapstack-labs/runboard/internal/runtable"
)

const (
	maxColumnWidth = 40
	// chrome is the lines around the table: title, status and help.
	chrome = 5
)

// changedMsg is sent when the table pinged its subscribers.
type changedMsg struct{}

// closedMsg is sent when the table was closed underneath the view.
type closedMsg struct{}

// actionMsg reports the outcome of a load, refetch or delete.
type actionMsg struct {
	text string
	err  error
}

// Model is the bubbletea model of the watch view.
type Model struct {
	ctx     context.Context
	table   *runtable.Table
	updates <-chan struct{}
	title   string

	grid   table.Model
	keys   []string
	status string
	err    error

	// From the last snapshot.
	total    int
	hasMore  bool
	loading  bool
	polling  bool
	selected int
	loadErr  string
}

// NewModel creates the watch model of t. updates is the table's
// subscription channel; nil disables redraws on change.
func NewModel(ctx context.Context, t *runtable.Table, updates <-chan struct{}, title string) Model {
	if title == "" {
		title = "Evaluation runs"
	}
	grid := table.New(table.WithFocused(true), table.WithHeight(20), table.WithWidth(120))
	grid.SetStyles(tableStyles())

	m := Model{ctx: ctx, table: t, updates: updates, title: title, grid: grid}
	m.refresh()
	return m
}

// Init loads the first page and starts listening for changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.waitForChange(), m.loadNextPage())
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.grid.SetHeight(max(msg.Height-chrome, 3))
		m.grid.SetWidth(msg.Width)
		return m, nil

	case changedMsg:
		m.refresh()
		return m, m.waitForChange()

	case closedMsg:
		return m, tea.Quit

	case actionMsg:
		m.status, m.err = msg.text, msg.err
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case " ", "x":
			if key, ok := m.cursorKey(); ok {
				m.table.Toggle(key)
				m.refresh()
			}
			return m, nil
		case "c":
			m.table.ClearSelection()
			m.refresh()
			return m, nil
		case "n":
			return m, m.loadNextPage()
		case "r":
			return m, m.refetch()
		case "D":
			return m, m.deleteSelected()
		}
	}

	var cmd tea.Cmd
	m.grid, cmd = m.grid.Update(msg)
	return m, cmd
}

func (m Model) waitForChange() tea.Cmd {
	if m.updates == nil {
		return nil
	}
	updates := m.updates
	return func() tea.Msg {
		if _, open := <-updates; !open {
			return closedMsg{}
		}
		return changedMsg{}
	}
}

func (m Model) loadNextPage() tea.Cmd {
	t, ctx := m.table, m.ctx
	return func() tea.Msg {
		if err := t.LoadNextPage(ctx); err != nil {
			return actionMsg{text: "load failed", err: err}
		}
		return actionMsg{}
	}
}

func (m Model) refetch() tea.Cmd {
	t, ctx := m.table, m.ctx
	return func() tea.Msg {
		if err := t.Refetch(ctx); err != nil {
			return actionMsg{text: "refresh failed", err: err}
		}
		return actionMsg{text: "refreshed"}
	}
}

func (m Model) deleteSelected() tea.Cmd {
	t, ctx := m.table, m.ctx
	return func() tea.Msg {
		n, err := t.DeleteSelected(ctx)
		if err != nil {
			return actionMsg{text: "delete failed", err: err}
		}
		return actionMsg{text: fmt.Sprintf("deleted %d runs", n)}
	}
}

func (m Model) cursorKey() (string, bool) {
	i := m.grid.Cursor()
	if i < 0 || i >= len(m.keys) {
		return "", false
	}
	return m.keys[i], true
}

// refresh rebuilds the grid from the table. Skeleton rows are not shown.
func (m *Model) refresh() {
	snap := m.table.Snapshot()
	selected := snap.Selection

	titles := []string{" "}
	for _, c := range snap.Columns {
		titles = append(titles, c.Label)
	}
	widths := make([]int, len(titles))
	for i, t := range titles {
		widths[i] = lipgloss.Width(t)
	}

	var (
		rows []table.Row
		keys []string
	)
	for _, r := range snap.Rows {
		if r.IsSkeleton {
			continue
		}
		mark := " "
		if slices.Contains(selected, r.Key) {
			mark = "✓"
		}
		row := table.Row{mark}
		for i, c := range snap.Columns {
			text := m.table.Cell(m.ctx, r, c).Text
			row = append(row, text)
			widths[i+1] = max(widths[i+1], min(lipgloss.Width(text), maxColumnWidth))
		}
		rows = append(rows, row)
		keys = append(keys, r.Key)
	}

	cols := make([]table.Column, len(titles))
	for i, t := range titles {
		cols[i] = table.Column{Title: t, Width: widths[i]}
	}

	cursor := m.grid.Cursor()
	// Rows must never be rendered against a column set of another length.
	if len(m.grid.Columns()) != len(cols) {
		m.grid.SetRows(nil)
	}
	m.grid.SetColumns(cols)
	m.grid.SetRows(rows)
	if len(rows) > 0 {
		m.grid.SetCursor(min(cursor, len(rows)-1))
	}
	m.keys = keys
	m.total, m.hasMore, m.loading, m.polling = snap.Total, snap.HasMore, snap.Loading, snap.Polling
	m.selected = len(selected)
	m.loadErr = snap.Err
}
