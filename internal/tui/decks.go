package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// frame borders plus horizontal padding
const (
	frameWidth  = 4
	frameHeight = 2
)

// renderDeckFrame draws a bordered deck of exactly width x height cells with
// a title row on top of body.
func renderDeckFrame(title, right, body string, width, height int, active bool) string {
	style := sectionStyle
	if active {
		style = activeSectionStyle
	}
	inner := max(width-frameWidth, 1)

	header := chartTitleStyle.Render(truncate(title, inner))
	if right != "" {
		gap := inner - lipgloss.Width(title) - lipgloss.Width(right)
		if gap > 0 {
			header += strings.Repeat(" ", gap) + right
		}
	}

	return style.
		Width(max(width-2, 1)).
		Height(max(height-frameHeight, 1)).
		MaxHeight(max(height, frameHeight+1)).
		Render(lipgloss.JoinVertical(lipgloss.Left, header, body))
}

// bodyRows is how many item rows fit under the title.
func bodyRows(height int) int {
	return max(height-frameHeight-1, 1)
}

// visibleWindow returns the [start, end) slice of n items to draw so that
// sel stays on screen.
func visibleWindow(n, sel, rows int) (int, int) {
	if n <= rows {
		return 0, n
	}
	start := 0
	if sel >= rows {
		start = sel - rows + 1
	}
	return start, min(start+rows, n)
}

func truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return "…"
	}
	return string(r[:width-1]) + "…"
}

func padRight(s string, width int) string {
	s = truncate(s, width)
	if n := len([]rune(s)); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// bar renders a proportional bar of at most width cells.
func bar(value, maxValue int64, width int) string {
	if maxValue <= 0 || width <= 0 || value <= 0 {
		return ""
	}
	n := int(float64(value) / float64(maxValue) * float64(width))
	return strings.Repeat("█", max(n, 1))
}

func emptyBody(text string) string {
	return helpStyle.Render(text)
}
