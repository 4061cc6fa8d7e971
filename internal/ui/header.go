package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/muurk/httpcore/internal/version"
)

// Detail is one "Key: value" line under a header.
type Detail struct {
	Key   string
	Value string
}

// Header is a boxed title with a subtitle and detail lines.
type Header struct {
	Title    string
	Subtitle string
	Details  []Detail
	Width    int
}

// Render returns the header as a string. Plain output drops the border.
func (h *Header) Render() string {
	width := h.Width
	if width < MinTerminalWidth {
		width = MinTerminalWidth
	}

	lines := []string{render(TitleStyle, strings.ToUpper(h.Title))}
	if h.Subtitle != "" {
		lines = append(lines, render(KeyStyle, h.Subtitle))
	}
	if len(h.Details) > 0 {
		lines = append(lines, divider(width-6))
		keyWidth := 0
		for _, d := range h.Details {
			keyWidth = max(keyWidth, len(d.Key)+1)
		}
		for _, d := range h.Details {
			key := d.Key + ":" + strings.Repeat(" ", keyWidth-len(d.Key)-1)
			lines = append(lines, render(KeyStyle, key)+" "+render(ValueStyle, d.Value))
		}
	}
	content := lipgloss.JoinVertical(lipgloss.Left, lines...)
	if Plain() {
		return content
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(PrimaryColor).
		Width(width - 2).
		Render(content)
}

func (h *Header) String() string { return h.Render() }

// Banner is printed when the server starts listening on addr.
func Banner(addr string, details ...Detail) string {
	h := &Header{
		Title:    "httpcore",
		Subtitle: version.Full(),
		Details:  append([]Detail{{Key: "Listening", Value: addr}}, details...),
		Width:    GetTerminalWidth(),
	}
	return h.Render()
}
