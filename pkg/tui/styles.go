package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles used by the views.
type Styles struct {
	Title     lipgloss.Style
	Tab       lipgloss.Style
	ActiveTab lipgloss.Style
	User      lipgloss.Style
	Socrate   lipgloss.Style
	Muted     lipgloss.Style
	Cursor    lipgloss.Style
	Error     lipgloss.Style
	Success   lipgloss.Style
	Input     lipgloss.Style
}

func DefaultStyles() Styles {
	accent := lipgloss.AdaptiveColor{Light: "#5A4FCF", Dark: "#A99BFF"}
	muted := lipgloss.AdaptiveColor{Light: "#767676", Dark: "#8A8A8A"}
	return Styles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(accent),
		Tab:       lipgloss.NewStyle().Padding(0, 1).Foreground(muted),
		ActiveTab: lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(accent),
		User:      lipgloss.NewStyle().Bold(true),
		Socrate:   lipgloss.NewStyle().Bold(true).Foreground(accent),
		Muted:     lipgloss.NewStyle().Foreground(muted),
		Cursor:    lipgloss.NewStyle().Bold(true).Foreground(accent),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E05252")),
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("#3FA66B")),
		Input: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 1),
	}
}
