// Package ui provides the terminal styling shared by CLI commands.
package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors. Adaptive so both light and dark backgrounds stay readable.
var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1e66f5", Dark: "#89b4fa"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#40a02b", Dark: "#a6e3a1"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "240", Dark: "245"}
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = lipgloss.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	keyStyle    = lipgloss.NewStyle().Foreground(ColorMuted).PaddingRight(1)
	panelStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorMuted).
			Padding(0, 1)
)

func init() {
	if termenv.EnvNoColor() {
		SetColor(false)
	}
}

// SetColor forces colored output on or off.
func SetColor(enabled bool) {
	if enabled {
		lipgloss.SetColorProfile(termenv.EnvColorProfile())
		return
	}
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders s as a success marker.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders s as a warning marker.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders s as a failure marker.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders s de-emphasized.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// Field is one row of a Panel.
type Field struct {
	Key   string
	Value string
}

// Panel renders a titled, bordered block of aligned key/value rows.
func Panel(title string, fields ...Field) string {
	width := 0
	for _, f := range fields {
		if w := lipgloss.Width(f.Key); w > width {
			width = w
		}
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	for _, f := range fields {
		b.WriteString("\n")
		b.WriteString(keyStyle.Width(width + 1).Render(f.Key + ":"))
		b.WriteString(f.Value)
	}
	return panelStyle.Render(b.String())
}

// Bool renders a yes/no value with a pass or warn color.
func Bool(v bool, yes, no string) string {
	if v {
		return RenderPass(yes)
	}
	return RenderWarn(no)
}

// Count renders n, muted when zero.
func Count(n int) string {
	if n == 0 {
		return RenderMuted("0")
	}
	return fmt.Sprintf("%d", n)
}
