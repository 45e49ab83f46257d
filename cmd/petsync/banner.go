package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerPadStyle     = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	bannerToeStyle     = lipgloss.NewStyle().Foreground(colorPrimaryLight)
	bannerTitleStyle   = lipgloss.NewStyle().Foreground(colorText).Bold(true)
	bannerTaglineStyle = lipgloss.NewStyle().Foreground(colorPrimaryDark).Italic(true)
	bannerVersionStyle = lipgloss.NewStyle().Foreground(colorMuted)
)

// renderBanner draws a paw print beside the name.
func renderBanner() string {
	toe := bannerToeStyle.Render("●")
	pad := bannerPadStyle.Render("▆▆▆")
	title := bannerTitleStyle.Render("PETSYNC")

	lines := []string{
		"   " + toe + " " + toe,
		" " + toe + "     " + toe + "    " + title,
		"   " + pad,
	}
	return strings.Join(lines, "\n")
}

func renderBannerWithTagline() string {
	tagline := bannerTaglineStyle.Render("  bookings in, records kept")
	ver := bannerVersionStyle.Render("  " + version)
	return strings.Join([]string{renderBanner(), tagline, ver}, "\n")
}
