package tui

import "github.com/charmbracelet/lipgloss"

// Palette.
var (
	ColorNavy   = lipgloss.Color("#1B2A49")
	ColorWhite  = lipgloss.Color("#F5F5F5")
	ColorGray   = lipgloss.Color("245")
	ColorBlue   = lipgloss.Color("39")
	ColorGreen  = lipgloss.Color("#49E209")
	ColorOrange = lipgloss.Color("208")
	ColorRed    = lipgloss.Color("196")
)

// Format colors in the counts chart and the formats deck.
var formatColors = map[string]lipgloss.Color{
	"simple":   ColorBlue,
	"collectd": ColorOrange,
}

var (
	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorGray).
			Padding(0, 1)

	activeSectionStyle = sectionStyle.
				BorderForeground(ColorGreen)

	chartTitleStyle = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(ColorGray)

	selectedStyle = lipgloss.NewStyle().
			Foreground(ColorNavy).
			Background(ColorGreen)

	errorStyle = lipgloss.NewStyle().
			Foreground(ColorRed).
			Bold(true)

	statusStyle = lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(ColorWhite)
)

func formatColor(format string) lipgloss.Color {
	if c, ok := formatColors[format]; ok {
		return c
	}
	return ColorGray
}
