package tui

import (
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	topNamesLimit   = 15
	topTagKeysLimit = 10
	rejectionsLimit = 50
)

// fetchSnapshot runs every dashboard query against store. Partial results are
// kept; the first error is returned alongside them.
func fetchSnapshot(store model.MeasurementQuerier, opts model.QueryOpts, recentLimit int) (*Snapshot, error) {
	snap := &Snapshot{FetchedAt: time.Now()}
	var errs []error
	keep := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	var err error
	snap.Total, err = store.TotalMeasurementCount(opts)
	keep(err)
	snap.Minutes, err = store.CountsByMinute(opts)
	keep(err)
	snap.Names, err = store.TopMeasurementNames(topNamesLimit, model.QueryOpts{Format: opts.Format})
	keep(err)
	snap.Formats, err = store.FormatCounts()
	keep(err)
	snap.TagKeys, err = store.TopTagKeys(topTagKeysLimit, opts)
	keep(err)
	snap.Recent, err = store.RecentMeasurements(recentLimit, opts)
	keep(err)
	snap.Rejections, err = store.RecentRejections(rejectionsLimit)
	keep(err)

	if len(errs) > 0 {
		return snap, errs[0]
	}
	return snap, nil
}

func (m *DashboardModel) fetchSnapshotCmd(opts model.QueryOpts) tea.Cmd {
	store := m.store
	limit := m.recentLimit
	return func() tea.Msg {
		if store == nil {
			return snapshotMsg{err: errors.New("no data source")}
		}
		snap, err := fetchSnapshot(store, opts, limit)
		return snapshotMsg{snap: snap, err: err}
	}
}

// applySnapshot pushes fetched data into every deck and the stats tracker.
func (m *DashboardModel) applySnapshot(msg snapshotMsg) {
	now := time.Now()
	if msg.err != nil {
		m.setError(msg.err.Error(), now)
	}
	if msg.snap == nil {
		return
	}
	m.snap = msg.snap
	m.stats.Observe(msg.snap.Total, msg.snap.FetchedAt)
	for i, d := range m.decks {
		d.SetData(msg.snap)
		if n := d.ItemCount(); m.deckSelIdx[i] >= n {
			m.deckSelIdx[i] = max(0, n-1)
		}
	}
}
