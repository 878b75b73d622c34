package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/help"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Snapshot is everything the dashboard shows, fetched in one tick.
type Snapshot struct {
	Total      int64
	Minutes    []model.MinuteCount
	Names      []model.NameCount
	Formats    map[string]int64
	TagKeys    []model.TagKeyStat
	Recent     []model.MeasurementRecord
	Rejections []model.Rejection
	FetchedAt  time.Time
}

// Deck is one panel of the dashboard grid.
type Deck interface {
	ID() string
	Title() string
	SetData(s *Snapshot)
	ItemCount() int
	Render(width, height int, active bool, selIdx int) string
}

// Selector is implemented by decks whose items can narrow the dashboard to
// one measurement name.
type Selector interface {
	SelectedName(selIdx int) string
}

// KeyOpener is implemented by decks whose items open the tag values page.
type KeyOpener interface {
	SelectedKey(selIdx int) string
}

// TickMsg represents periodic updates
type TickMsg time.Time

type snapshotMsg struct {
	snap *Snapshot
	err  error
}

var availableIntervals = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
}

// DashboardModel represents the main TUI model.
type DashboardModel struct {
	store      model.MeasurementQuerier
	dataSource string

	width  int
	height int

	keys     KeyMap
	help     help.Model
	showHelp bool

	decks         []Deck
	deckSelIdx    []int
	activeDeckIdx int

	nameFilter string
	nav        *PageNav

	updateInterval     time.Duration
	currentIntervalIdx int
	paused             bool
	tickInFlight       bool
	recentLimit        int

	snap  *Snapshot
	stats StatsTracker

	lastError   string
	lastErrorAt time.Time
}

// NewDashboardModel creates a dashboard that polls store every updateInterval.
func NewDashboardModel(store model.MeasurementQuerier, updateInterval time.Duration, recentLimit int, dataSource string) *DashboardModel {
	if updateInterval <= 0 {
		updateInterval = model.DefaultUpdateInterval
	}
	if recentLimit <= 0 {
		recentLimit = model.DefaultRecentLimit
	}

	currentIdx := 2
	for i, interval := range availableIntervals {
		if interval == updateInterval {
			currentIdx = i
			break
		}
	}

	decks := DefaultDecks()
	return &DashboardModel{
		store:              store,
		dataSource:         dataSource,
		keys:               DefaultKeyMap(),
		help:               help.New(),
		decks:              decks,
		deckSelIdx:         make([]int, len(decks)),
		updateInterval:     updateInterval,
		currentIntervalIdx: currentIdx,
		recentLimit:        recentLimit,
		stats:              newStatsTracker(time.Now()),
	}
}

// DefaultDecks declares the built-in dashboard panels in grid order.
func DefaultDecks() []Deck {
	return []Deck{
		NewCountsDeck(),
		NewNamesDeck(),
		NewFormatsDeck(),
		NewTagKeysDeck(),
		NewRecentDeck(),
		NewRejectionsDeck(),
	}
}

// Init starts the first fetch and the tick loop.
func (m *DashboardModel) Init() tea.Cmd {
	m.tickInFlight = true
	return tea.Batch(m.fetchSnapshotCmd(m.queryOpts()), m.tickCmd())
}

func (m *DashboardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.updateInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m *DashboardModel) queryOpts() model.QueryOpts {
	return model.QueryOpts{Name: m.nameFilter}
}

// NameFilter returns the measurement name the dashboard is narrowed to.
func (m *DashboardModel) NameFilter() string { return m.nameFilter }

// SetNameFilter narrows the next fetch to name. Call before the program starts.
func (m *DashboardModel) SetNameFilter(name string) { m.nameFilter = name }

// Paused reports whether live refresh is paused.
func (m *DashboardModel) Paused() bool { return m.paused }

// UpdateInterval returns the current refresh interval.
func (m *DashboardModel) UpdateInterval() time.Duration { return m.updateInterval }

func (m *DashboardModel) setError(msg string, now time.Time) {
	m.lastError = msg
	m.lastErrorAt = now
}

// currentError returns the last fetch error while it is fresh.
func (m *DashboardModel) currentError(now time.Time) string {
	if m.lastError == "" || now.Sub(m.lastErrorAt) > 30*time.Second {
		return ""
	}
	return m.lastError
}
