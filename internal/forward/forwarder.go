package forward

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Forwarder defaults.
const (
	DefaultQueueSize     = 10000
	DefaultBatchSize     = 500
	DefaultFlushInterval = time.Second
	DefaultExportTimeout = 10 * time.Second
)

// Config holds tunable parameters for a Forwarder.
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	ExportTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.ExportTimeout <= 0 {
		c.ExportTimeout = DefaultExportTimeout
	}
	return c
}

// lane is the queue and worker of one exporter.
type lane struct {
	exporter Exporter
	queue    chan model.Measurement
	dropped  atomic.Int64
}

// Forwarder fans records out to exporters. Each exporter has its own bounded
// queue and batching worker so a slow backend never stalls the others. Add
// never blocks: when a queue is full the measurement is dropped and counted.
type Forwarder struct {
	conf  Config
	lanes []*lane

	mu     sync.RWMutex
	closed bool

	g        *errgroup.Group
	stopOnce sync.Once
	stopErr  error
}

// NewForwarder starts one worker per exporter.
func NewForwarder(conf Config, exporters ...Exporter) *Forwarder {
	conf = conf.withDefaults()
	f := &Forwarder{conf: conf, g: &errgroup.Group{}}
	for _, exp := range exporters {
		if exp == nil {
			continue
		}
		l := &lane{exporter: exp, queue: make(chan model.Measurement, conf.QueueSize)}
		f.lanes = append(f.lanes, l)
		f.g.Go(func() error {
			f.run(l)
			return nil
		})
	}
	return f
}

// Add queues record for every exporter. It is a no-op after Stop.
func (f *Forwarder) Add(record *model.MeasurementRecord) {
	if record == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	for _, l := range f.lanes {
		select {
		case l.queue <- record.Measurement:
		default:
			l.dropped.Add(1)
			metrics.RecordDropped(l.exporter.Name(), 1)
		}
	}
}

// Dropped returns how many measurements the named exporter's queue refused.
func (f *Forwarder) Dropped(exporter string) int64 {
	for _, l := range f.lanes {
		if l.exporter.Name() == exporter {
			return l.dropped.Load()
		}
	}
	return 0
}

// Stop closes the queues, waits for the workers to export what is left and
// closes the exporters. It is safe to call more than once.
func (f *Forwarder) Stop() error {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		for _, l := range f.lanes {
			close(l.queue)
		}
		f.mu.Unlock()

		f.stopErr = f.g.Wait()
		for _, l := range f.lanes {
			if err := l.exporter.Close(); err != nil {
				logging.Warnf("forward: close %s: %v", l.exporter.Name(), err)
			}
		}
	})
	return f.stopErr
}

func (f *Forwarder) run(l *lane) {
	ticker := time.NewTicker(f.conf.FlushInterval)
	defer ticker.Stop()

	batch := make([]model.Measurement, 0, f.conf.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		f.export(l.exporter, batch)
		batch = make([]model.Measurement, 0, f.conf.BatchSize)
	}

	for {
		select {
		case m, ok := <-l.queue:
			if !ok {
				flush()
				return
			}
			batch = append(batch, m)
			if len(batch) >= f.conf.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (f *Forwarder) export(exp Exporter, batch []model.Measurement) {
	ctx, cancel := context.WithTimeout(context.Background(), f.conf.ExportTimeout)
	defer cancel()

	err := exp.Export(ctx, batch)
	metrics.RecordExport(exp.Name(), len(batch), err)
	if err != nil {
		logging.Warnf("forward: %s export of %d measurements failed: %v", exp.Name(), len(batch), err)
	}
}
