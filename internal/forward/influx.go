package forward

import (
	"context"
	"fmt"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// InfluxConfig configures an InfluxExporter.
type InfluxConfig struct {
	Addr            string
	Username        string
	Password        string
	Database        string
	RetentionPolicy string
	Timeout         time.Duration
}

// InfluxExporter writes measurements to InfluxDB 1.x, one point per
// measurement with a single "value" field at millisecond precision.
type InfluxExporter struct {
	client client.Client
	conf   InfluxConfig
}

// NewInfluxExporter creates an exporter. It does not contact the server.
func NewInfluxExporter(conf InfluxConfig) (*InfluxExporter, error) {
	if conf.Database == "" {
		return nil, fmt.Errorf("influx: database is required")
	}
	if conf.Timeout <= 0 {
		conf.Timeout = 10 * time.Second
	}
	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:     conf.Addr,
		Username: conf.Username,
		Password: conf.Password,
		Timeout:  conf.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("influx: %w", err)
	}
	return &InfluxExporter{client: c, conf: conf}, nil
}

func (e *InfluxExporter) Name() string { return "influx" }

// Ping checks that the server answers.
func (e *InfluxExporter) Ping() error {
	_, _, err := e.client.Ping(e.conf.Timeout)
	return err
}

// Export writes ms as one batch. Measurements with a non-finite value are
// skipped since InfluxDB cannot store them.
func (e *InfluxExporter) Export(ctx context.Context, ms []model.Measurement) error {
	bp, err := client.NewBatchPoints(client.BatchPointsConfig{
		Database:        e.conf.Database,
		RetentionPolicy: e.conf.RetentionPolicy,
		Precision:       "ms",
	})
	if err != nil {
		return fmt.Errorf("influx: %w", err)
	}

	skipped := 0
	for _, m := range ms {
		if !finite(m.Value) || m.Name == "" {
			skipped++
			continue
		}
		pt, err := client.NewPoint(m.Name, exportableTags(m.Tags), map[string]interface{}{"value": m.Value}, m.Time())
		if err != nil {
			skipped++
			continue
		}
		bp.AddPoint(pt)
	}
	if skipped > 0 {
		logging.Debugf("influx: skipped %d unexportable measurements", skipped)
	}
	if len(bp.Points()) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.client.Write(bp); err != nil {
		return fmt.Errorf("influx: write: %w", err)
	}
	return nil
}

func (e *InfluxExporter) Close() error {
	return e.client.Close()
}
