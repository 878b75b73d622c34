package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	TagValuesPageID = "tag-values"
	tagValuesLimit  = 100
)

type tagValue struct {
	value string
	count int64
}

type tagValuesMsg struct {
	key    string
	values []tagValue
	err    error
}

// TagValuesPage lists the most common values of one tag key.
type TagValuesPage struct {
	store   model.MeasurementQuerier
	keys    KeyMap
	tagKey  string
	values  []tagValue
	sel     int
	loading bool
	err     error
}

func NewTagValuesPage(store model.MeasurementQuerier) *TagValuesPage {
	return &TagValuesPage{store: store, keys: DefaultKeyMap()}
}

func (p *TagValuesPage) ID() string    { return TagValuesPageID }
func (p *TagValuesPage) Init() tea.Cmd { return nil }

// TagKey is the key currently shown.
func (p *TagValuesPage) TagKey() string { return p.tagKey }

// Open resets the page for nav.Param and starts loading it.
func (p *TagValuesPage) Open(nav PageNav) tea.Cmd {
	p.tagKey = nav.Param
	p.values, p.sel, p.err = nil, 0, nil
	return p.load()
}

func (p *TagValuesPage) load() tea.Cmd {
	if p.store == nil || p.tagKey == "" {
		return nil
	}
	p.loading = true
	store, tagKey := p.store, p.tagKey
	return func() tea.Msg {
		counts, err := store.TagKeyValues(tagKey, tagValuesLimit)
		return tagValuesMsg{key: tagKey, values: sortTagValues(counts), err: err}
	}
}

func sortTagValues(counts map[string]int64) []tagValue {
	out := make([]tagValue, 0, len(counts))
	for v, n := range counts {
		out = append(out, tagValue{value: v, count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].value < out[j].value
	})
	return out
}

func (p *TagValuesPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tagValuesMsg:
		// Ignore answers for a key we already left.
		if msg.key != p.tagKey {
			return nil, nil
		}
		p.loading = false
		p.values, p.err = msg.values, msg.err
		p.sel = min(p.sel, max(len(p.values)-1, 0))
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.ForceQuit):
			return tea.Quit, nil
		case key.Matches(msg, p.keys.Escape), key.Matches(msg, p.keys.Quit):
			return nil, &PageNav{PageID: "dashboard"}
		case key.Matches(msg, p.keys.Up):
			p.sel = max(p.sel-1, 0)
		case key.Matches(msg, p.keys.Down):
			p.sel = min(p.sel+1, max(len(p.values)-1, 0))
		case key.Matches(msg, p.keys.Refresh):
			return p.load(), nil
		}
	}
	return nil, nil
}

func (p *TagValuesPage) View(width, height int) string {
	if width <= 0 || height <= 0 {
		return "Loading..."
	}
	title := fmt.Sprintf("Values of %q", p.tagKey)
	var body string
	switch {
	case p.err != nil:
		body = errorStyle.Render("error: " + p.err.Error())
	case p.loading && len(p.values) == 0:
		body = emptyBody("Loading...")
	case len(p.values) == 0:
		body = emptyBody("No values")
	default:
		body = p.renderRows(width-frameWidth, bodyRows(height-1))
	}
	frame := renderDeckFrame(title, fmt.Sprintf("%d shown", len(p.values)), body, width, height-1, true)
	status := statusStyle.Width(width).MaxWidth(width).Render(" esc back  r refresh  ↑/↓ move")
	return lipgloss.JoinVertical(lipgloss.Left, frame, status)
}

func (p *TagValuesPage) renderRows(inner, rows int) string {
	valueWidth := max(inner/2, 8)
	countWidth := 9
	barWidth := max(inner-valueWidth-countWidth-1, 0)
	top := p.values[0].count

	start, end := visibleWindow(len(p.values), p.sel, rows)
	lines := make([]string, 0, end-start)
	for i := start; i < end; i++ {
		v := p.values[i]
		line := padRight(v.value, valueWidth) + fmt.Sprintf("%*s ", countWidth, formatCount(v.count)) + bar(v.count, top, barWidth)
		if i == p.sel {
			line = selectedStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
