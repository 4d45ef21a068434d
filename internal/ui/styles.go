// Package ui provides terminal styling and prompts for the tracker CLI.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

func init() {
	if !ShouldUseColor() {
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// Status colors adapt to light and dark terminals.
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#81c784"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#b26a00", Dark: "#ffb74d"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#e57373"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#1565c0", Dark: "#64b5f6"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#616161", Dark: "#9e9e9e"}
)

var (
	PassStyle   = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle   = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle   = lipgloss.NewStyle().Foreground(ColorFail)
	AccentStyle = lipgloss.NewStyle().Foreground(ColorAccent)
	MutedStyle  = lipgloss.NewStyle().Foreground(ColorMuted)
	BoldStyle   = lipgloss.NewStyle().Bold(true)
)

// ShouldUseColor honours NO_COLOR and CLICOLOR_FORCE, then falls back to
// whether stdout is a terminal.
func ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return IsTerminal(os.Stdout)
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// RenderPass renders s in the success color.
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders s in the warning color.
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders s in the failure color.
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderAccent renders s in the accent color.
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderMuted renders s dimmed.
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderBold renders s bold.
func RenderBold(s string) string { return BoldStyle.Render(s) }
