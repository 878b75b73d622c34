// Package forward ships normalized measurements to external time-series
// backends.
package forward

import (
	"context"
	"math"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Exporter writes a batch of measurements to one backend.
type Exporter interface {
	Name() string
	Export(ctx context.Context, ms []model.Measurement) error
	Close() error
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// exportableTags drops tags the backends cannot represent.
func exportableTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}
