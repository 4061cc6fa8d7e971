// Package ui renders the httpcore CLI output with lipgloss: the startup
// banner, the route table and response summaries for "httpcore get".
//
// Styling is applied only when stdout is a terminal, so piped output stays
// plain text that scripts can parse.
package ui
