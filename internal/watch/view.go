package watch

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	accent = lipgloss.Color("#7D56F4")
	faint  = lipgloss.Color("240")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle = lipgloss.NewStyle().Foreground(faint)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	liveStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		Foreground(accent).
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(faint)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(accent).
		Bold(false)
	return s
}

// View renders the title, the grid, a status line and key help.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	if m.polling {
		b.WriteString("  " + liveStyle.Render("● live"))
	}
	b.WriteString("\n")

	if len(m.keys) == 0 && !m.loading {
		b.WriteString(mutedStyle.Render("No runs") + "\n")
	} else {
		b.WriteString(m.grid.View() + "\n")
	}

	b.WriteString(m.statusLine() + "\n")
	b.WriteString(mutedStyle.Render("↑/↓ move  space select  c clear  n next page  r refresh  D delete selected  q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) statusLine() string {
	parts := []string{}
	switch {
	case m.loading && len(m.keys) == 0:
		parts = append(parts, "loading…")
	case m.hasMore:
		parts = append(parts, fmt.Sprintf("%d of %d runs", len(m.keys), m.total))
	default:
		parts = append(parts, fmt.Sprintf("%d runs", len(m.keys)))
	}
	if m.selected > 0 {
		parts = append(parts, fmt.Sprintf("%d selected", m.selected))
	}
	if m.status != "" {
		parts = append(parts, m.status)
	}
	line := mutedStyle.Render(strings.Join(parts, " · "))

	switch {
	case m.err != nil:
		line += "  " + errorStyle.Render(m.err.Error())
	case m.loadErr != "":
		line += "  " + errorStyle.Render(m.loadErr)
	}
	return line
}
