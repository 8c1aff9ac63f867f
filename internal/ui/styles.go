package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	Primary    = lipgloss.Color("#22d3ee")
	Secondary  = lipgloss.Color("#7C3AED")
	Success    = lipgloss.Color("#10B981")
	Warning    = lipgloss.Color("#F59E0B")
	Error      = lipgloss.Color("#EF4444")
	Muted      = lipgloss.Color("#6B7280")
	Foreground = lipgloss.Color("#F9FAFB")
	Panel      = lipgloss.Color("#1F2937")

	// Upload bar gradient.
	ProgressStart = "#22d3ee"
	ProgressEnd   = "#0ea5e9"
)

var (
	SubtitleStyle = lipgloss.NewStyle().Foreground(Secondary).Italic(true)
	SuccessStyle  = lipgloss.NewStyle().Foreground(Success).Bold(true)
	ErrorStyle    = lipgloss.NewStyle().Foreground(Error).Bold(true)
	WarningStyle  = lipgloss.NewStyle().Foreground(Warning)
	MutedStyle    = lipgloss.NewStyle().Foreground(Muted)
	SelectedStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	SpinnerStyle  = lipgloss.NewStyle().Foreground(Primary)

	// StatusStyle is the connection badge in the board header.
	StatusStyle = lipgloss.NewStyle().
			Foreground(Foreground).
			Background(Primary).
			Padding(0, 1).
			Bold(true)
)

var (
	// BoxStyle frames the item list, InfoBoxStyle the log pane.
	BoxStyle     = panel(Primary)
	InfoBoxStyle = panel(Secondary)

	ContainerStyle = lipgloss.NewStyle().Margin(1, 2)
	HeaderStyle    = lipgloss.NewStyle().
			Bold(true).
			Foreground(Primary).
			Background(Panel).
			Padding(0, 2)
	FooterStyle = lipgloss.NewStyle().Foreground(Muted).MarginTop(1)
)

func panel(border lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1)
}

const (
	IconFile     = "📄"
	IconPost     = "📝"
	IconText     = "💬"
	IconSend     = "📤"
	IconReceive  = "📥"
	IconSuccess  = "✅"
	IconError    = "❌"
	IconWarning  = "⚠️"
	IconInfo     = "ℹ️"
	IconRoom     = "🚪"
	IconPeer     = "👤"
	IconConnect  = "🔌"
	IconWaiting  = "⏳"
	IconAttached = "📎"
)

// Output is where the Print helpers write.
var Output io.Writer = os.Stdout

func printLine(icon, msg string) {
	fmt.Fprintf(Output, "%s %s\n", icon, msg)
}

func PrintError(msg string) {
	printLine(ErrorStyle.Render(IconError), ErrorStyle.Render(msg))
}

func PrintWarning(msg string) {
	printLine(WarningStyle.Render(IconWarning), WarningStyle.Render(msg))
}

func PrintSuccessf(format string, args ...any) {
	printLine(SuccessStyle.Render(IconSuccess), fmt.Sprintf(format, args...))
}

func PrintInfo(msg string) {
	printLine(IconInfo, msg)
}
