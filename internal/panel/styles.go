package panel

import "github.com/charmbracelet/lipgloss"

var (
	colorRunning = lipgloss.Color("#22c55e")
	colorStopped = lipgloss.Color("#9ca3af")
	colorError   = lipgloss.Color("#dc2626")
	colorAccent  = lipgloss.Color("#3b82f6")
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBorder  = lipgloss.Color("#4b5563")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent)

	runningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRunning)

	stoppedStyle = lipgloss.NewStyle().
			Foreground(colorStopped)

	codeStyle = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 2).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorDimmed).
			Width(10)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDimmed)

	frameStyle = lipgloss.NewStyle().
			Padding(1, 2)
)
