package tui

import (
	"fmt"
	"time"
)

const rateWindow = 10

// StatsTracker derives ingest rates from successive total counts.
type StatsTracker struct {
	StartTime   time.Time
	Total       int64
	PeakPerSec  float64
	RecentRates []float64

	lastTotal int64
	lastAt    time.Time
	primed    bool
}

func newStatsTracker(now time.Time) StatsTracker {
	return StatsTracker{
		StartTime:   now,
		RecentRates: make([]float64, 0, rateWindow),
	}
}

// Observe records the total count seen at. The first observation only sets
// the baseline. A total that shrinks (retention) resets the baseline.
func (s *StatsTracker) Observe(total int64, at time.Time) {
	s.Total = total
	if !s.primed || total < s.lastTotal || !at.After(s.lastAt) {
		s.lastTotal, s.lastAt, s.primed = total, at, true
		return
	}

	rate := float64(total-s.lastTotal) / at.Sub(s.lastAt).Seconds()
	s.lastTotal, s.lastAt = total, at

	s.RecentRates = append(s.RecentRates, rate)
	if len(s.RecentRates) > rateWindow {
		s.RecentRates = s.RecentRates[len(s.RecentRates)-rateWindow:]
	}
	if rate > s.PeakPerSec {
		s.PeakPerSec = rate
	}
}

// CurrentRate is the average rate over the recent window.
func (s *StatsTracker) CurrentRate() float64 {
	if len(s.RecentRates) == 0 {
		return 0
	}
	var sum float64
	for _, r := range s.RecentRates {
		sum += r
	}
	return sum / float64(len(s.RecentRates))
}

func formatRate(r float64) string {
	switch {
	case r >= 1000:
		return fmt.Sprintf("%.1fk/s", r/1000)
	case r >= 10:
		return fmt.Sprintf("%.0f/s", r)
	default:
		return fmt.Sprintf("%.1f/s", r)
	}
}

func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, mins)
	}
	return fmt.Sprintf("%dm%02ds", mins, secs)
}
