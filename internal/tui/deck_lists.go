package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// NamesDeck lists the busiest measurement names. Enter narrows the dashboard
// to the selected name.
type NamesDeck struct {
	names []model.NameCount
}

// NewNamesDeck creates an empty names deck.
func NewNamesDeck() *NamesDeck { return &NamesDeck{} }

func (d *NamesDeck) ID() string          { return "names" }
func (d *NamesDeck) Title() string       { return "Top Names" }
func (d *NamesDeck) SetData(s *Snapshot) { d.names = s.Names }
func (d *NamesDeck) ItemCount() int      { return len(d.names) }

func (d *NamesDeck) SelectedName(selIdx int) string {
	if selIdx < 0 || selIdx >= len(d.names) {
		return ""
	}
	return d.names[selIdx].Name
}

func (d *NamesDeck) Render(width, height int, active bool, selIdx int) string {
	if len(d.names) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No measurements yet"), width, height, active)
	}

	inner := width - frameWidth
	countWidth := 8
	nameWidth := max(inner*2/3-countWidth, 8)
	barWidth := max(inner-nameWidth-countWidth-2, 0)
	maxCount := d.names[0].Count

	start, end := visibleWindow(len(d.names), selIdx, bodyRows(height))
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		nc := d.names[i]
		text := padRight(nc.Name, nameWidth) + fmt.Sprintf("%*s ", countWidth, formatCount(nc.Count))
		line := text + lipgloss.NewStyle().Foreground(ColorBlue).Render(bar(nc.Count, maxCount, barWidth))
		if active && i == selIdx {
			line = selectedStyle.Render(text) + bar(nc.Count, maxCount, barWidth)
		}
		lines = append(lines, line)
	}
	right := fmt.Sprintf("%d", len(d.names))
	return renderDeckFrame(d.Title(), right, strings.Join(lines, "\n"), width, height, active)
}

// FormatsDeck shows how records split between converters.
type FormatsDeck struct {
	formats []formatShare
}

type formatShare struct {
	format string
	count  int64
	pct    float64
}

// NewFormatsDeck creates an empty formats deck.
func NewFormatsDeck() *FormatsDeck { return &FormatsDeck{} }

func (d *FormatsDeck) ID() string     { return "formats" }
func (d *FormatsDeck) Title() string  { return "Formats" }
func (d *FormatsDeck) ItemCount() int { return len(d.formats) }

func (d *FormatsDeck) SetData(s *Snapshot) {
	d.formats = formatShares(s.Formats)
}

// formatShares orders formats by count, descending, then by name.
func formatShares(counts map[string]int64) []formatShare {
	var total int64
	out := make([]formatShare, 0, len(counts))
	for f, n := range counts {
		total += n
		out = append(out, formatShare{format: f, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].format < out[j].format
	})
	if total > 0 {
		for i := range out {
			out[i].pct = float64(out[i].count) * 100 / float64(total)
		}
	}
	return out
}

func (d *FormatsDeck) Render(width, height int, active bool, selIdx int) string {
	if len(d.formats) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No data available"), width, height, active)
	}

	inner := width - frameWidth
	barWidth := max(inner-26, 0)
	start, end := visibleWindow(len(d.formats), selIdx, bodyRows(height))
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		f := d.formats[i]
		text := fmt.Sprintf("%-10s %8s %5.1f%% ", truncate(f.format, 10), formatCount(f.count), f.pct)
		b := lipgloss.NewStyle().Foreground(formatColor(f.format)).Render(bar(int64(f.pct*10), 1000, barWidth))
		if active && i == selIdx {
			text = selectedStyle.Render(text)
		}
		lines = append(lines, text+b)
	}
	return renderDeckFrame(d.Title(), "", strings.Join(lines, "\n"), width, height, active)
}

// TagKeysDeck lists tag keys by how many records carry them.
type TagKeysDeck struct {
	keys []model.TagKeyStat
}

// NewTagKeysDeck creates an empty tag keys deck.
func NewTagKeysDeck() *TagKeysDeck { return &TagKeysDeck{} }

func (d *TagKeysDeck) ID() string          { return "tags" }
func (d *TagKeysDeck) Title() string       { return "Tag Keys" }
func (d *TagKeysDeck) SetData(s *Snapshot) { d.keys = s.TagKeys }
func (d *TagKeysDeck) ItemCount() int      { return len(d.keys) }

func (d *TagKeysDeck) SelectedKey(selIdx int) string {
	if selIdx < 0 || selIdx >= len(d.keys) {
		return ""
	}
	return d.keys[selIdx].Key
}

func (d *TagKeysDeck) Render(width, height int, active bool, selIdx int) string {
	if len(d.keys) == 0 {
		return renderDeckFrame(d.Title(), "", emptyBody("No tags yet"), width, height, active)
	}

	inner := width - frameWidth
	keyWidth := max(inner-18, 6)
	start, end := visibleWindow(len(d.keys), selIdx, bodyRows(height))
	lines := make([]string, 0, end-start+1)
	for i := start; i < end; i++ {
		k := d.keys[i]
		line := padRight(k.Key, keyWidth) + fmt.Sprintf("%8s %8s", formatCount(int64(k.UniqueValues)), formatCount(k.TotalCount))
		if active && i == selIdx {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return renderDeckFrame(d.Title(), "uniq / total", strings.Join(lines, "\n"), width, height, active)
}
