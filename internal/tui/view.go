package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

const minDeckHeight = 4

// View renders the dashboard.
func (m *DashboardModel) View() string {
	if m.width <= 0 || m.height <= 0 {
		return "Loading..."
	}
	if m.showHelp {
		return m.renderHelp()
	}

	header := m.renderHeader()
	status := m.renderStatusLine()
	grid := m.renderGrid(m.width, max(m.height-2, minDeckHeight*3))
	return lipgloss.JoinVertical(lipgloss.Left, header, grid, status)
}

// renderBranding renders "tsnorm" with a green to light blue gradient
func renderBranding() string {
	colors := []string{"#49E209", "#35DD2F", "#21D955", "#0DD47B", "#00D0A1", "#00CAC7"}
	var b strings.Builder
	for i, ch := range "tsnorm" {
		b.WriteString(lipgloss.NewStyle().
			Background(ColorNavy).
			Foreground(lipgloss.Color(colors[i%len(colors)])).
			Bold(true).
			Render(string(ch)))
	}
	return b.String()
}

func (m *DashboardModel) renderHeader() string {
	now := time.Now()
	parts := []string{
		fmt.Sprintf("total %s", formatCount(m.stats.Total)),
		fmt.Sprintf("rate %s", formatRate(m.stats.CurrentRate())),
		fmt.Sprintf("peak %s", formatRate(m.stats.PeakPerSec)),
		fmt.Sprintf("up %s", formatUptime(now.Sub(m.stats.StartTime))),
	}
	if m.snap != nil {
		parts = append(parts, fmt.Sprintf("rejected %d", len(m.snap.Rejections)))
	}
	if m.nameFilter != "" {
		parts = append(parts, "name="+m.nameFilter)
	}

	left := " " + renderBranding() + statusStyle.Render("  "+strings.Join(parts, " │ "))
	var right string
	switch {
	case m.paused:
		right = statusStyle.Foreground(ColorOrange).Bold(true).Render("PAUSED ")
	case m.dataSource != "":
		right = statusStyle.Render(m.dataSource + " ")
	}
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		return statusStyle.Width(m.width).MaxWidth(m.width).Render(left)
	}
	return left + statusStyle.Render(strings.Repeat(" ", gap)) + right
}

func (m *DashboardModel) renderStatusLine() string {
	if errText := m.currentError(time.Now()); errText != "" {
		return statusStyle.Width(m.width).MaxWidth(m.width).Render(errorStyle.Background(ColorNavy).Render(" error: " + errText))
	}

	var left string
	if m.activeDeckIdx < len(m.decks) {
		left = " [" + m.decks[m.activeDeckIdx].Title() + "] "
	}
	m.help.ShowAll = false
	m.help.Width = max(m.width-lipgloss.Width(left)-14, 0)
	right := fmt.Sprintf(" every %s ", intervalLabel(m.updateInterval))

	line := left + m.help.View(m.keys)
	gap := m.width - lipgloss.Width(line) - lipgloss.Width(right)
	if gap > 0 {
		line += strings.Repeat(" ", gap) + right
	}
	return statusStyle.Width(m.width).MaxWidth(m.width).Render(line)
}

// rowHeights splits the grid height across the three deck rows.
func rowHeights(total int) (int, int, int) {
	r1 := max(total*35/100, minDeckHeight)
	r2 := max(total*25/100, minDeckHeight)
	r3 := max(total-r1-r2, minDeckHeight)
	return r1, r2, r3
}

func (m *DashboardModel) renderDeck(idx, width, height int) string {
	if idx >= len(m.decks) {
		return ""
	}
	return m.decks[idx].Render(width, height, idx == m.activeDeckIdx, m.deckSelIdx[idx])
}

func (m *DashboardModel) renderGrid(width, height int) string {
	r1, r2, r3 := rowHeights(height)
	wide := width * 3 / 5
	narrow := width - wide
	half := width / 2

	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Top, m.renderDeck(0, wide, r1), m.renderDeck(1, narrow, r1)),
		lipgloss.JoinHorizontal(lipgloss.Top, m.renderDeck(2, half, r2), m.renderDeck(3, width-half, r2)),
		lipgloss.JoinHorizontal(lipgloss.Top, m.renderDeck(4, wide, r3), m.renderDeck(5, narrow, r3)),
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *DashboardModel) renderHelp() string {
	m.help.ShowAll = true
	m.help.Width = m.width
	body := lipgloss.JoinVertical(lipgloss.Left,
		chartTitleStyle.Render("Keys"),
		"",
		m.help.View(m.keys),
		"",
		helpStyle.Render("enter on Top Names or Recent Measurements narrows every deck to that name"),
		helpStyle.Render("enter on Tag Keys lists the values of that key"),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, sectionStyle.Render(body))
}
