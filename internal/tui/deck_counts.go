package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

const countsLegendWidth = 18

// CountsDeck displays records ingested per minute as a stacked bar chart,
// split by converter.
type CountsDeck struct {
	data []model.MinuteCount
}

// NewCountsDeck creates an empty counts deck.
func NewCountsDeck() *CountsDeck { return &CountsDeck{} }

func (d *CountsDeck) ID() string    { return "counts" }
func (d *CountsDeck) Title() string { return "Per Minute" }

func (d *CountsDeck) SetData(s *Snapshot) {
	d.data = fillMinutes(s.Minutes)
}

func (d *CountsDeck) ItemCount() int { return 0 }

func (d *CountsDeck) Render(width, height int, active bool, _ int) string {
	if len(d.data) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No data available"), width, height, active)
	}

	minTotal, maxTotal := d.data[0].Total, d.data[0].Total
	for _, c := range d.data {
		minTotal = min(minTotal, c.Total)
		maxTotal = max(maxTotal, c.Total)
	}
	right := fmt.Sprintf("Min: %d | Max: %d", minTotal, maxTotal)
	return renderDeckFrame(d.Title(), right, d.renderChart(width-frameWidth, bodyRows(height)), width, height, active)
}

func (d *CountsDeck) renderChart(width, chartHeight int) string {
	chartWidth := max(width-countsLegendWidth-2, 10)
	maxBars := max(chartWidth/2, 1)

	bc := barchart.New(chartWidth, chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)

	simpleStyle := lipgloss.NewStyle().Foreground(formatColor("simple")).Background(formatColor("simple"))
	collectdStyle := lipgloss.NewStyle().Foreground(formatColor("collectd")).Background(formatColor("collectd"))
	emptyStyle := lipgloss.NewStyle().Foreground(ColorGray)

	data := d.data
	if len(data) > maxBars {
		data = data[len(data)-maxBars:]
	}
	for i := len(data); i < maxBars; i++ {
		bc.Push(barchart.BarData{Values: []barchart.BarValue{{Name: "EMPTY", Value: 0, Style: emptyStyle}}})
	}
	for _, c := range data {
		var values []barchart.BarValue
		if c.Simple > 0 {
			values = append(values, barchart.BarValue{Name: "simple", Value: float64(c.Simple), Style: simpleStyle})
		}
		if c.Collectd > 0 {
			values = append(values, barchart.BarValue{Name: "collectd", Value: float64(c.Collectd), Style: collectdStyle})
		}
		if len(values) == 0 {
			values = append(values, barchart.BarValue{Name: "EMPTY", Value: 0, Style: emptyStyle})
		}
		bc.Push(barchart.BarData{Values: values})
	}
	bc.Draw()

	latest := d.data[len(d.data)-1]
	legend := []string{
		lipgloss.NewStyle().Foreground(formatColor("simple")).Render(fmt.Sprintf("%-9s%7d", "simple:", latest.Simple)),
		lipgloss.NewStyle().Foreground(formatColor("collectd")).Render(fmt.Sprintf("%-9s%7d", "collectd:", latest.Collectd)),
		helpStyle.Render(strings.Repeat("─", countsLegendWidth-2)),
		fmt.Sprintf("%-9s%7d", "total:", latest.Total),
	}
	for len(legend) < chartHeight {
		legend = append(legend, "")
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, bc.View(), "  ", strings.Join(legend[:chartHeight], "\n"))
}

// fillMinutes returns counts for every minute between the first and last
// bucket, inserting zero buckets for minutes with no records.
func fillMinutes(in []model.MinuteCount) []model.MinuteCount {
	if len(in) == 0 {
		return nil
	}
	first := in[0].Minute.Truncate(time.Minute)
	last := in[len(in)-1].Minute.Truncate(time.Minute)
	if last.Before(first) {
		return append([]model.MinuteCount(nil), in...)
	}

	byMinute := make(map[int64]model.MinuteCount, len(in))
	for _, c := range in {
		byMinute[c.Minute.Truncate(time.Minute).Unix()] = c
	}

	out := make([]model.MinuteCount, 0, int(last.Sub(first)/time.Minute)+1)
	for t := first; !t.After(last); t = t.Add(time.Minute) {
		if c, ok := byMinute[t.Unix()]; ok {
			out = append(out, c)
			continue
		}
		out = append(out, model.MinuteCount{Minute: t})
	}
	return out
}
