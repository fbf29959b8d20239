package output

import "github.com/charmbracelet/lipgloss"

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

// Styles holds the lipgloss styles used by a Renderer.
type Styles struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
	Status  map[string]lipgloss.Style
}

// NewStyles returns the styles for a terminal, or plain styles otherwise.
func NewStyles(color bool) *Styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &Styles{
			Header:  plain.Bold(true),
			Success: plain,
			Warning: plain,
			Error:   plain,
			Muted:   plain,
			Status:  map[string]lipgloss.Style{},
		}
	}
	return &Styles{
		Header:  lipgloss.NewStyle().Foreground(purple).Bold(true),
		Success: lipgloss.NewStyle().Foreground(green),
		Warning: lipgloss.NewStyle().Foreground(yellow),
		Error:   lipgloss.NewStyle().Foreground(red),
		Muted:   lipgloss.NewStyle().Foreground(dim),
		Status: map[string]lipgloss.Style{
			"success":     lipgloss.NewStyle().Foreground(green),
			"failure":     lipgloss.NewStyle().Foreground(red),
			"errors":      lipgloss.NewStyle().Foreground(red),
			"cancelled":   lipgloss.NewStyle().Foreground(dim),
			"initialized": lipgloss.NewStyle().Foreground(yellow),
			"started":     lipgloss.NewStyle().Foreground(yellow),
			"running":     lipgloss.NewStyle().Foreground(yellow),
			"pending":     lipgloss.NewStyle().Foreground(yellow),
		},
	}
}

// StatusStyle returns the style for a run status.
func (s *Styles) StatusStyle(status string) lipgloss.Style {
	if st, ok := s.Status[status]; ok {
		return st
	}
	return lipgloss.NewStyle()
}
