package model

import "time"

// Defaults shared by the service and the dashboard.
const (
	DefaultUpdateInterval = 2 * time.Second
	DefaultRecentLimit    = 200
	DefaultTopLimit       = 20
	DefaultMinuteWindow   = time.Hour

	// MaxQueryLimit caps every row limit a caller may ask for.
	MaxQueryLimit = 1000
)

// ClampLimit maps a requested row limit into [1, MaxQueryLimit]. Zero or
// negative requests get def.
func ClampLimit(n, def int) int {
	if n <= 0 {
		n = def
	}
	return min(max(n, 1), MaxQueryLimit)
}
