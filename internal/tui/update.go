package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m *DashboardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.MouseMsg:
		return m.handleMouseEvent(msg)

	case TickMsg:
		// Keep ticking while paused or while a fetch is outstanding, but
		// never stack fetches.
		if m.paused || m.tickInFlight {
			return m, m.tickCmd()
		}
		m.tickInFlight = true
		return m, tea.Batch(m.fetchSnapshotCmd(m.queryOpts()), m.tickCmd())

	case snapshotMsg:
		m.tickInFlight = false
		m.applySnapshot(msg)
		return m, nil
	}
	return m, nil
}

func (m *DashboardModel) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch {
		case key.Matches(msg, m.keys.ForceQuit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help), key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Quit):
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit), key.Matches(msg, m.keys.ForceQuit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Help):
		m.showHelp = true
	case key.Matches(msg, m.keys.NextDeck):
		m.cycleDeck(1)
	case key.Matches(msg, m.keys.PrevDeck):
		m.cycleDeck(-1)
	case key.Matches(msg, m.keys.Up):
		m.moveSelection(-1)
	case key.Matches(msg, m.keys.Down):
		m.moveSelection(1)
	case key.Matches(msg, m.keys.Enter):
		return m, m.selectActive()
	case key.Matches(msg, m.keys.Escape):
		if m.nameFilter != "" {
			m.nameFilter = ""
			return m, m.refreshNow()
		}
	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
	case key.Matches(msg, m.keys.IntervalUp):
		m.changeInterval(1)
	case key.Matches(msg, m.keys.IntervalDown):
		m.changeInterval(-1)
	case key.Matches(msg, m.keys.Refresh):
		return m, m.refreshNow()
	}
	return m, nil
}

func (m *DashboardModel) handleMouseEvent(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}
	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.moveSelection(-1)
	case tea.MouseButtonWheelDown:
		m.moveSelection(1)
	}
	return m, nil
}

func (m *DashboardModel) cycleDeck(delta int) {
	if len(m.decks) == 0 {
		return
	}
	m.activeDeckIdx = (m.activeDeckIdx + delta + len(m.decks)) % len(m.decks)
}

func (m *DashboardModel) moveSelection(delta int) {
	if m.activeDeckIdx >= len(m.decks) {
		return
	}
	n := m.decks[m.activeDeckIdx].ItemCount()
	if n == 0 {
		m.deckSelIdx[m.activeDeckIdx] = 0
		return
	}
	idx := m.deckSelIdx[m.activeDeckIdx] + delta
	m.deckSelIdx[m.activeDeckIdx] = min(max(idx, 0), n-1)
}

// selectActive acts on the item under the cursor: tag keys open their values
// page, names narrow the dashboard.
func (m *DashboardModel) selectActive() tea.Cmd {
	if m.activeDeckIdx >= len(m.decks) {
		return nil
	}
	deck, idx := m.decks[m.activeDeckIdx], m.deckSelIdx[m.activeDeckIdx]
	if op, ok := deck.(KeyOpener); ok {
		if k := op.SelectedKey(idx); k != "" {
			m.nav = &PageNav{PageID: TagValuesPageID, Param: k}
		}
		return nil
	}
	sel, ok := deck.(Selector)
	if !ok {
		return nil
	}
	name := sel.SelectedName(idx)
	if name == "" || name == m.nameFilter {
		return nil
	}
	m.nameFilter = name
	return m.refreshNow()
}

// refreshNow fetches immediately unless a fetch is already running.
func (m *DashboardModel) refreshNow() tea.Cmd {
	if m.tickInFlight {
		return nil
	}
	m.tickInFlight = true
	return m.fetchSnapshotCmd(m.queryOpts())
}

func (m *DashboardModel) changeInterval(delta int) {
	idx := min(max(m.currentIntervalIdx+delta, 0), len(availableIntervals)-1)
	m.currentIntervalIdx = idx
	m.updateInterval = availableIntervals[idx]
}

func intervalLabel(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.String()
}
