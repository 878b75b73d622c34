package tui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// RecentDeck shows the newest normalized measurements, newest first.
type RecentDeck struct {
	records []model.MeasurementRecord
	table   table.Model
}

// NewRecentDeck creates an empty recent measurements deck.
func NewRecentDeck() *RecentDeck {
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		Foreground(ColorWhite).
		Bold(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorGray).
		BorderBottom(true)
	styles.Selected = selectedStyle

	return &RecentDeck{
		table: table.New(table.WithStyles(styles)),
	}
}

func (d *RecentDeck) ID() string     { return "recent" }
func (d *RecentDeck) Title() string  { return "Recent Measurements" }
func (d *RecentDeck) ItemCount() int { return len(d.records) }

// SetData keeps records newest first.
func (d *RecentDeck) SetData(s *Snapshot) {
	d.records = make([]model.MeasurementRecord, len(s.Recent))
	for i, r := range s.Recent {
		d.records[len(s.Recent)-1-i] = r
	}
}

func (d *RecentDeck) SelectedName(selIdx int) string {
	if selIdx < 0 || selIdx >= len(d.records) {
		return ""
	}
	return d.records[selIdx].Name
}

func (d *RecentDeck) Render(width, height int, active bool, selIdx int) string {
	if len(d.records) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No measurements yet"), width, height, active)
	}

	inner := width - frameWidth
	timeW, valueW, formatW := 12, 14, 8
	nameW := max((inner-timeW-valueW-formatW)/2, 8)
	tagsW := max(inner-timeW-valueW-formatW-nameW-10, 8)

	d.table.SetColumns([]table.Column{
		{Title: "Time", Width: timeW},
		{Title: "Name", Width: nameW},
		{Title: "Value", Width: valueW},
		{Title: "Format", Width: formatW},
		{Title: "Tags", Width: tagsW},
	})
	rows := make([]table.Row, len(d.records))
	for i, r := range d.records {
		rows[i] = table.Row{
			r.Time().Local().Format("15:04:05.000"),
			r.Name,
			formatValue(r.Value),
			r.Format,
			formatTagList(r.Tags),
		}
	}
	d.table.SetRows(rows)
	d.table.SetWidth(inner)
	d.table.SetHeight(max(bodyRows(height)-1, 1))
	if active {
		d.table.Focus()
	} else {
		d.table.Blur()
	}
	d.table.SetCursor(min(max(selIdx, 0), len(rows)-1))

	right := fmt.Sprintf("%d", len(d.records))
	return renderDeckFrame(d.Title(), right, d.table.View(), width, height, active)
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}

func formatTagList(tags map[string]string) string {
	parts := make([]string, 0, len(tags))
	for _, k := range model.SortedTagKeys(tags) {
		parts = append(parts, k+"="+tags[k])
	}
	return strings.Join(parts, ",")
}

// RejectionsDeck lists documents that failed normalization.
type RejectionsDeck struct {
	rejections []model.Rejection
}

// NewRejectionsDeck creates an empty rejections deck.
func NewRejectionsDeck() *RejectionsDeck { return &RejectionsDeck{} }

func (d *RejectionsDeck) ID() string          { return "rejections" }
func (d *RejectionsDeck) Title() string       { return "Rejections" }
func (d *RejectionsDeck) SetData(s *Snapshot) { d.rejections = s.Rejections }
func (d *RejectionsDeck) ItemCount() int      { return len(d.rejections) }

func (d *RejectionsDeck) Render(width, height int, active bool, selIdx int) string {
	if len(d.rejections) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No rejected documents"), width, height, active)
	}

	inner := width - frameWidth
	start, end := visibleWindow(len(d.rejections), selIdx, bodyRows(height))
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		r := d.rejections[i]
		where := r.Source
		if r.Index >= 0 {
			where = fmt.Sprintf("%s[%d]", r.Source, r.Index)
		}
		line := truncate(fmt.Sprintf("%s %-10s %s", r.RejectedAt.Local().Format("15:04:05"), where, r.Reason), inner)
		if active && i == selIdx {
			line = selectedStyle.Render(line)
		} else {
			line = lipgloss.NewStyle().Foreground(ColorOrange).Render(line)
		}
		lines = append(lines, line)
	}
	right := errorStyle.Render(fmt.Sprintf("%d", len(d.rejections)))
	return renderDeckFrame(d.Title(), right, strings.Join(lines, "\n"), width, height, active)
}
