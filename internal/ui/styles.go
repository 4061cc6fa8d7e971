package ui

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// Color palette
var (
	PrimaryColor = lipgloss.Color("#7D56F4") // Purple - headers, borders
	SuccessColor = lipgloss.Color("#43BF6D") // Green - 2xx
	ErrorColor   = lipgloss.Color("#FF5555") // Red - 5xx
	WarningColor = lipgloss.Color("#FFA500") // Orange - 4xx
	MutedColor   = lipgloss.Color("#626262") // Gray - secondary info
	TextColor    = lipgloss.Color("#FFFFFF") // White - main content
)

// Layout constants
const (
	MinTerminalWidth = 60
	MaxContentWidth  = 100
)

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true).
			PaddingLeft(2)

	KeyStyle = lipgloss.NewStyle().
			Foreground(MutedColor).
			PaddingLeft(2)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	MethodStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	PatternStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	ParamStyle = lipgloss.NewStyle().
			Foreground(WarningColor)
)

var plain atomic.Bool

func init() {
	plain.Store(!IsTerminal(os.Stdout))
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return f != nil && term.IsTerminal(int(f.Fd()))
}

// SetPlain turns styling off (or back on) for everything rendered later.
func SetPlain(v bool) { plain.Store(v) }

// Plain reports whether output is rendered without styling.
func Plain() bool { return plain.Load() }

// render applies s unless output is plain.
func render(s lipgloss.Style, text string) string {
	if Plain() {
		return text
	}
	return s.Render(text)
}

// GetTerminalWidth returns the current terminal width, with fallback
func GetTerminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width < MinTerminalWidth {
		return MinTerminalWidth
	}
	if width > MaxContentWidth {
		return MaxContentWidth
	}
	return width
}

// StatusStyle colours a status code by class.
func StatusStyle(code int) lipgloss.Style {
	s := lipgloss.NewStyle().Bold(true)
	switch {
	case code >= 500:
		return s.Foreground(ErrorColor)
	case code >= 400:
		return s.Foreground(WarningColor)
	case code >= 200 && code < 300:
		return s.Foreground(SuccessColor)
	default:
		return s.Foreground(MutedColor)
	}
}

// divider returns a horizontal rule of width characters.
func divider(width int) string {
	if width < 10 {
		width = 10
	}
	return render(lipgloss.NewStyle().Foreground(PrimaryColor), strings.Repeat("─", width))
}
