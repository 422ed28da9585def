// Package terminal renders tier state, banners and upgrade prompts for the CLI.
package terminal

import "github.com/charmbracelet/lipgloss"

// PinkyBot palette.
var (
	Pink        = lipgloss.Color("#FF4FA3")
	Muted       = lipgloss.Color("#8A8F98")
	Destructive = lipgloss.Color("#E53935")
	Warning     = lipgloss.Color("#FFC107")
	Info        = lipgloss.Color("#2196F3")
	Success     = lipgloss.Color("#8BC34A")
)

// Styles holds the lipgloss styles used by the printer.
type Styles struct {
	Title    lipgloss.Style
	Label    lipgloss.Style
	Value    lipgloss.Style
	Muted    lipgloss.Style
	Locked   lipgloss.Style
	Unlocked lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
	Modal    lipgloss.Style
	Current  lipgloss.Style
	Pick     lipgloss.Style
}

// DefaultStyles returns the standard styles.
func DefaultStyles() Styles {
	banner := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1)

	return Styles{
		Title:    lipgloss.NewStyle().Bold(true).Foreground(Pink),
		Label:    lipgloss.NewStyle().Foreground(Muted).Width(16),
		Value:    lipgloss.NewStyle().Bold(true),
		Muted:    lipgloss.NewStyle().Foreground(Muted),
		Locked:   lipgloss.NewStyle().Foreground(Muted).Faint(true),
		Unlocked: lipgloss.NewStyle().Foreground(Success),
		Error:    banner.BorderForeground(Destructive).Foreground(Destructive),
		Warning:  banner.BorderForeground(Warning).Foreground(Warning),
		Info:     banner.BorderForeground(Info).Foreground(Info),
		Modal: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(Pink).
			Padding(1, 2),
		Current: lipgloss.NewStyle().Foreground(Muted).Italic(true),
		Pick:    lipgloss.NewStyle().Bold(true).Foreground(Pink),
	}
}
