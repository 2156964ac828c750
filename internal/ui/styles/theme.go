// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the Nexora TUI.
package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application, tuned to the
// terminal's color capability.
type Theme struct {
	Name         string
	IsDark       bool
	HasTrueColor bool
	ColorProfile termenv.Profile

	// Layout
	App     lipgloss.Style
	Sidebar lipgloss.Style

	// Header
	Header      lipgloss.Style
	HeaderBrand lipgloss.Style
	HeaderInfo  lipgloss.Style

	// Messages
	UserLabel    lipgloss.Style
	BotLabel     lipgloss.Style
	UserMessage  lipgloss.Style
	BotMessage   lipgloss.Style
	ErrorMessage lipgloss.Style
	Notice       lipgloss.Style
	FileTag      lipgloss.Style
	Timestamp    lipgloss.Style

	// Input area
	InputBox    lipgloss.Style
	InputActive lipgloss.Style
	CharCount   lipgloss.Style
	CharLimit   lipgloss.Style

	// Status bar
	StatusBar   lipgloss.Style
	StatusState lipgloss.Style
	StatusQuota lipgloss.Style

	// Sidebar entries
	ChatEntry    lipgloss.Style
	ChatSelected lipgloss.Style
}

// palette is the raw color set for one theme variant.
type palette struct {
	brand     lipgloss.Color
	accent    lipgloss.Color
	text      lipgloss.Color
	dim       lipgloss.Color
	errorFg   lipgloss.Color
	noticeFg  lipgloss.Color
	border    lipgloss.Color
	userFg    lipgloss.Color
	statusBg  lipgloss.Color
	selected  lipgloss.Color
	highlight lipgloss.Color
}

var darkPalette = palette{
	brand:     lipgloss.Color("#7C3AED"),
	accent:    lipgloss.Color("#A78BFA"),
	text:      lipgloss.Color("#E5E7EB"),
	dim:       lipgloss.Color("#6B7280"),
	errorFg:   lipgloss.Color("#F87171"),
	noticeFg:  lipgloss.Color("#FBBF24"),
	border:    lipgloss.Color("#374151"),
	userFg:    lipgloss.Color("#93C5FD"),
	statusBg:  lipgloss.Color("#1F2937"),
	selected:  lipgloss.Color("#312E81"),
	highlight: lipgloss.Color("#F59E0B"),
}

var lightPalette = palette{
	brand:     lipgloss.Color("#6D28D9"),
	accent:    lipgloss.Color("#7C3AED"),
	text:      lipgloss.Color("#111827"),
	dim:       lipgloss.Color("#9CA3AF"),
	errorFg:   lipgloss.Color("#DC2626"),
	noticeFg:  lipgloss.Color("#B45309"),
	border:    lipgloss.Color("#D1D5DB"),
	userFg:    lipgloss.Color("#1D4ED8"),
	statusBg:  lipgloss.Color("#E5E7EB"),
	selected:  lipgloss.Color("#DDD6FE"),
	highlight: lipgloss.Color("#D97706"),
}

// NewTheme builds a theme by name ("dark" or "light"). Unknown names fall
// back to dark.
func NewTheme(name string) *Theme {
	p := darkPalette
	isDark := true
	if name == "light" {
		p = lightPalette
		isDark = false
	}

	profile := termenv.ColorProfile()

	t := &Theme{
		Name:         name,
		IsDark:       isDark,
		HasTrueColor: profile == termenv.TrueColor,
		ColorProfile: profile,
	}

	t.App = lipgloss.NewStyle()
	t.Sidebar = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderRight(true).
		BorderForeground(p.border).
		PaddingRight(1)

	t.Header = lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(p.border).
		Padding(0, 1)
	t.HeaderBrand = lipgloss.NewStyle().Foreground(p.brand).Bold(true)
	t.HeaderInfo = lipgloss.NewStyle().Foreground(p.dim)

	t.UserLabel = lipgloss.NewStyle().Foreground(p.userFg).Bold(true)
	t.BotLabel = lipgloss.NewStyle().Foreground(p.brand).Bold(true)
	t.UserMessage = lipgloss.NewStyle().Foreground(p.text)
	t.BotMessage = lipgloss.NewStyle().Foreground(p.text)
	t.ErrorMessage = lipgloss.NewStyle().Foreground(p.errorFg)
	t.Notice = lipgloss.NewStyle().Foreground(p.noticeFg).Italic(true)
	t.FileTag = lipgloss.NewStyle().
		Foreground(p.accent).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(p.border).
		Padding(0, 1)
	t.Timestamp = lipgloss.NewStyle().Foreground(p.dim)

	t.InputBox = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(p.border).
		Padding(0, 1)
	t.InputActive = t.InputBox.BorderForeground(p.brand)
	t.CharCount = lipgloss.NewStyle().Foreground(p.dim)
	t.CharLimit = lipgloss.NewStyle().Foreground(p.errorFg).Bold(true)

	t.StatusBar = lipgloss.NewStyle().Background(p.statusBg).Foreground(p.text).Padding(0, 1)
	t.StatusState = lipgloss.NewStyle().Background(p.statusBg).Foreground(p.accent).Bold(true)
	t.StatusQuota = lipgloss.NewStyle().Background(p.statusBg).Foreground(p.highlight)

	t.ChatEntry = lipgloss.NewStyle().Foreground(p.dim).Padding(0, 1)
	t.ChatSelected = lipgloss.NewStyle().
		Foreground(p.text).
		Background(p.selected).
		Bold(true).
		Padding(0, 1)

	return t
}
