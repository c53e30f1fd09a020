// Package ui provides terminal render helpers for CLI output.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
)

// RenderPass renders success markers (green).
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders warnings (yellow).
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders failures (red).
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderAccent renders highlighted text (cyan).
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderFaint renders de-emphasized text.
func RenderFaint(s string) string { return faintStyle.Render(s) }

// PriorityBadge renders a priority marker: high is warning-colored,
// low faint, medium plain.
func PriorityBadge(priority string) string {
	switch priority {
	case "high":
		return failStyle.Render("!" + priority)
	case "low":
		return faintStyle.Render(priority)
	default:
		return priority
	}
}
