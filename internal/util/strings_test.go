package util

import (
	"testing"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "fits", in: "Shipped the API", max: 20, want: "Shipped the API"},
		{name: "exact", in: "hello", max: 5, want: "hello"},
		{name: "trims whitespace first", in: "  hello \n", max: 5, want: "hello"},
		{name: "cut", in: "hello world", max: 8, want: "hello..."},
		{name: "no space before ellipsis", in: "wrote the docs", max: 9, want: "wrote..."},
		{name: "runes not bytes", in: "héllo wörld", max: 8, want: "héllo..."},
		{name: "tiny limit", in: "hello", max: 2, want: ".."},
		{name: "zero", in: "hello", max: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.in, tt.max)
			if got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Errorf("Truncate(%q, %d) produced invalid UTF-8", tt.in, tt.max)
			}
		})
	}
}

func TestTruncateWidth(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("Team Alpha Platform")

	tests := []struct {
		name string
		in   string
		max  int
	}{
		{name: "plain", in: "Team Alpha Platform", max: 10},
		{name: "styled", in: styled, max: 10},
		{name: "wide characters", in: "チームアルファ", max: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateWidth(tt.in, tt.max)
			if w := lipgloss.Width(got); w > tt.max {
				t.Errorf("TruncateWidth() width = %d, want <= %d (%q)", w, tt.max, got)
			}
		})
	}

	if got := TruncateWidth("beta", 10); got != "beta" {
		t.Errorf("TruncateWidth() = %q, want unchanged", got)
	}
}
