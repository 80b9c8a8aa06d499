// Package util holds small string helpers shared by the runner and the CLI.
package util

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks a shortened string.
const Ellipsis = "..."

// Truncate shortens s to at most maxRunes runes, ending in Ellipsis when
// anything was cut. Surrounding whitespace is trimmed first.
func Truncate(s string, maxRunes int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= len(Ellipsis) {
		return Ellipsis[:max(maxRunes, 0)]
	}
	return strings.TrimRight(string(runes[:maxRunes-len(Ellipsis)]), " ") + Ellipsis
}

// TruncateWidth shortens s to maxWidth terminal columns. Escape sequences
// are kept and wide characters count double.
func TruncateWidth(s string, maxWidth int) string {
	if lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= len(Ellipsis) {
		return Ellipsis[:max(maxWidth, 0)]
	}
	return ansi.Truncate(s, maxWidth, Ellipsis)
}
