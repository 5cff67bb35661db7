package color

import (
	"github.com/charmbracelet/lipgloss"
)

// Define colors
var (
	Primary = lipgloss.AdaptiveColor{Light: "#5A56E0", Dark: "#7571F9"}
	Success = lipgloss.AdaptiveColor{Light: "#05A167", Dark: "#05D176"}
	Error   = lipgloss.AdaptiveColor{Light: "#E06A56", Dark: "#F97171"}
	Warning = lipgloss.AdaptiveColor{Light: "#E0A956", Dark: "#F9C171"}
	Info    = lipgloss.AdaptiveColor{Light: "#5A9FE0", Dark: "#71B7F9"}
	Subtle  = lipgloss.AdaptiveColor{Light: "#9B9B9B", Dark: "#5C5C5C"}
)

// Define styles
var (
	PrimaryStyle = lipgloss.NewStyle().Foreground(Primary)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)
	ErrorStyle   = lipgloss.NewStyle().Foreground(Error)
	WarningStyle = lipgloss.NewStyle().Foreground(Warning)
	InfoStyle    = lipgloss.NewStyle().Foreground(Info)
	SubtleStyle  = lipgloss.NewStyle().Foreground(Subtle)
)

// Status identifies one of the per-unit console markers.
type Status string

const (
	StatusTest Status = "TEST"
	StatusSkip Status = "SKIP"
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

var markerStyles = map[Status]lipgloss.Style{
	StatusTest: InfoStyle.Bold(true),
	StatusSkip: WarningStyle.Bold(true),
	StatusPass: SuccessStyle.Bold(true),
	StatusFail: ErrorStyle.Bold(true),
}

// Marker renders the bracketed marker for status, e.g. "[PASS]".
func Marker(status Status) string {
	style, ok := markerStyles[status]
	if !ok {
		return "[" + string(status) + "]"
	}
	return style.Render("[" + string(status) + "]")
}
