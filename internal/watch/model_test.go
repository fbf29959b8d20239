package watch

import (
	"context"
	"fmt"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/runboard/internal/runtable"
	"github.com/leapstack-labs/runboard/internal/testutil"
	"github.com/leapstack-labs/runboard/pkg/core"
)

func newTestTable(t *testing.T, n int) (*runtable.Table, *testutil.FakeAPI) {
	t.Helper()
	runs := make([]core.APIRun, n)
	for i := range runs {
		runs[i] = core.APIRun{ID: fmt.Sprintf("r%d", i+1), Name: fmt.Sprintf("Run %d", i+1), Status: core.RunStatusSuccess}
	}
	api := testutil.NewFakeAPI(runs...)
	tbl, err := runtable.New(context.Background(), runtable.Config{
		API:          api,
		ProjectID:    "p1",
		PageSize:     3,
		PollInterval: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(tbl.Close)
	return tbl, api
}

// step feeds msg to m and returns the updated model and its command.
func step(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	nm, ok := next.(Model)
	require.True(t, ok)
	return nm, cmd
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_LoadsFirstPage(t *testing.T) {
	tbl, _ := newTestTable(t, 5)
	m := NewModel(context.Background(), tbl, nil, "")

	assert.Contains(t, m.View(), "Evaluation runs")
	assert.Empty(t, m.keys)

	msg := m.loadNextPage()()
	m, _ = step(t, m, msg)

	assert.Equal(t, []string{"p1::r1", "p1::r2", "p1::r3"}, m.keys)
	view := m.View()
	assert.Contains(t, view, "Run 1")
	assert.Contains(t, view, "3 of 5 runs")
	assert.NotContains(t, view, "Run 4")
}

func TestModel_NextPageKey(t *testing.T) {
	tbl, _ := newTestTable(t, 5)
	m := NewModel(context.Background(), tbl, nil, "")
	m, _ = step(t, m, m.loadNextPage()())

	m, cmd := step(t, m, key("n"))
	require.NotNil(t, cmd)
	m, _ = step(t, m, cmd())

	assert.Len(t, m.keys, 5)
	assert.Contains(t, m.View(), "5 runs")
}

func TestModel_SelectAndClear(t *testing.T) {
	tbl, _ := newTestTable(t, 3)
	m := NewModel(context.Background(), tbl, nil, "")
	m, _ = step(t, m, m.loadNextPage()())

	m, _ = step(t, m, key("down"))
	m, _ = step(t, m, key(" "))
	assert.Equal(t, []string{"p1::r2"}, tbl.Selection())
	assert.Contains(t, m.View(), "1 selected")

	m, _ = step(t, m, key(" "))
	assert.Empty(t, tbl.Selection(), "space toggles")

	m, _ = step(t, m, key("x"))
	require.NotEmpty(t, tbl.Selection())
	m, _ = step(t, m, key("c"))
	assert.Empty(t, tbl.Selection())
	assert.NotContains(t, m.View(), "1 selected")
}

func TestModel_DeleteSelected(t *testing.T) {
	tbl, api := newTestTable(t, 3)
	m := NewModel(context.Background(), tbl, nil, "")
	m, _ = step(t, m, m.loadNextPage()())
	m, _ = step(t, m, key(" "))

	m, cmd := step(t, m, key("D"))
	require.NotNil(t, cmd)
	m, _ = step(t, m, cmd())

	require.Len(t, api.DeleteRequests, 1)
	assert.Equal(t, []string{"r1"}, api.DeleteRequests[0].RunIDs)
	assert.Equal(t, []string{"p1::r2", "p1::r3"}, m.keys)
	assert.Contains(t, m.View(), "deleted 1 runs")
}

func TestModel_LoadErrorIsShown(t *testing.T) {
	tbl, api := newTestTable(t, 3)
	api.ListErr = fmt.Errorf("backend down")
	m := NewModel(context.Background(), tbl, nil, "")

	m, _ = step(t, m, m.loadNextPage()())

	assert.Error(t, m.err)
	assert.Contains(t, m.View(), "backend down")
}

func TestModel_Quit(t *testing.T) {
	tbl, _ := newTestTable(t, 1)
	m := NewModel(context.Background(), tbl, nil, "")

	for _, k := range []string{"q", "esc"} {
		var msg tea.KeyMsg
		if k == "esc" {
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		} else {
			msg = key(k)
		}
		_, cmd := step(t, m, msg)
		require.NotNil(t, cmd, k)
		assert.IsType(t, tea.QuitMsg{}, cmd(), k)
	}
}

func TestModel_RedrawsOnChangeAndQuitsOnClose(t *testing.T) {
	tbl, _ := newTestTable(t, 2)
	updates, unsubscribe := tbl.Subscribe()
	defer unsubscribe()
	m := NewModel(context.Background(), tbl, updates, "")

	wait := m.waitForChange()
	require.NotNil(t, wait)
	require.NoError(t, tbl.LoadNextPage(context.Background()))

	msg := wait()
	assert.IsType(t, changedMsg{}, msg)
	m, next := step(t, m, msg)
	assert.Len(t, m.keys, 2)
	require.NotNil(t, next)

	tbl.Close()
	// Drain pings queued before the close.
	for {
		msg = next()
		if _, closed := msg.(closedMsg); closed {
			break
		}
		m, next = step(t, m, msg)
	}
	_, cmd := step(t, m, msg)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_WindowSize(t *testing.T) {
	tbl, _ := newTestTable(t, 1)
	m := NewModel(context.Background(), tbl, nil, "Runs")

	m, _ = step(t, m, tea.WindowSizeMsg{Width: 80, Height: 12})

	assert.Equal(t, 12-chrome, m.grid.Height())
	assert.Contains(t, m.View(), "Runs")
}
