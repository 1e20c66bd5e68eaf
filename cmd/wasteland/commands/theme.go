package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/wastelandfi/wasteland/pkg/types"
)

// Palette
var (
	ColorRust    = lipgloss.Color("#c2410c")
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#eab308")
	ColorError   = lipgloss.Color("#ef4444")
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorMuted   = lipgloss.Color("#6b7280")
	ColorDim     = lipgloss.Color("#4b5563")
	ColorSand    = lipgloss.Color("#f5f5dc")
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func stdinIsTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var (
	StyleHeader    = lipgloss.NewStyle().Bold(true).Foreground(ColorSand)
	StyleSubheader = lipgloss.NewStyle().Bold(true).Foreground(ColorMuted)
	StyleAccent    = lipgloss.NewStyle().Foreground(ColorRust).Bold(true)
	StyleSuccess   = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleWarning   = lipgloss.NewStyle().Foreground(ColorWarning)
	StyleError     = lipgloss.NewStyle().Foreground(ColorError)
	StyleInfo      = lipgloss.NewStyle().Foreground(ColorInfo)
	StyleMuted     = lipgloss.NewStyle().Foreground(ColorMuted)
	StyleDim       = lipgloss.NewStyle().Foreground(ColorDim)
	StyleLabel     = lipgloss.NewStyle().Foreground(ColorMuted).Width(16)
	StyleValue     = lipgloss.NewStyle().Foreground(ColorSand)
)

var (
	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim).
			Padding(0, 1)

	StyleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorRust).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Foreground(ColorSand).
			Padding(0, 1)

	StyleTableRowAlt = lipgloss.NewStyle().
				Foreground(ColorMuted).
				Padding(0, 1)
)

func badge(bg lipgloss.Color, text string) string {
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(bg).
		Padding(0, 1).
		Bold(true).
		Render(text)
}

// StatusBadge colours a connector or health state.
func StatusBadge(status string) string {
	if !isTTY() {
		return status
	}
	switch status {
	case "ready", "ok", "healthy", "serving":
		return badge(ColorSuccess, status)
	case "failed", "error", "benched", "wrong_chain":
		return badge(ColorError, status)
	case "initializing", "degraded", "mock", "flaky":
		return badge(ColorWarning, status)
	default:
		return badge(ColorMuted, status)
	}
}

// TierBadge colours a hunter tier.
func TierBadge(tier types.HunterTier) string {
	if !isTTY() {
		return string(tier)
	}
	switch tier {
	case types.HunterTierBronze:
		return badge(lipgloss.Color("#cd7f32"), string(tier))
	case types.HunterTierSilver:
		return badge(lipgloss.Color("#c0c0c0"), string(tier))
	case types.HunterTierGold:
		return badge(lipgloss.Color("#ffd700"), string(tier))
	case types.HunterTierPlatinum:
		return badge(lipgloss.Color("#e5e4e2"), string(tier))
	default:
		return badge(ColorMuted, string(tier))
	}
}

// Logo returns the styled brand text
func Logo() string {
	return StyleAccent.Render("wasteland")
}
