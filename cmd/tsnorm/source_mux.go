package main

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/tsnorm/internal/linesource"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// DefaultMuxBuffer is the merged channel capacity when none is configured.
const DefaultMuxBuffer = 50_000

// SourceMultiplexer fans every configured line source into one channel. The
// channel closes once all sources have ended or Stop is called.
type SourceMultiplexer struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sources []linesource.Source
	out     chan model.IngestEnvelope

	group   errgroup.Group
	started sync.Once
	stopped sync.Once
	closed  sync.Once
}

func NewSourceMultiplexer(parent context.Context, sources []linesource.Source, buffer int) *SourceMultiplexer {
	if buffer <= 0 {
		buffer = DefaultMuxBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &SourceMultiplexer{
		ctx:     ctx,
		cancel:  cancel,
		sources: sources,
		out:     make(chan model.IngestEnvelope, buffer),
	}
}

// Start launches one pump per source.
func (m *SourceMultiplexer) Start() {
	m.started.Do(func() {
		for _, src := range m.sources {
			m.group.Go(func() error {
				m.pump(src)
				return nil
			})
		}
		go func() {
			_ = m.group.Wait()
			m.close()
		}()
	})
}

// Stop cancels the pumps, stops each source and waits for the merged channel
// to close.
func (m *SourceMultiplexer) Stop() {
	m.stopped.Do(func() {
		m.cancel()
		for _, src := range m.sources {
			src.Stop()
		}
		_ = m.group.Wait()
		m.close()
	})
}

func (m *SourceMultiplexer) HasSources() bool { return len(m.sources) > 0 }

// SourceNames lists the sources in configuration order.
func (m *SourceMultiplexer) SourceNames() []string {
	names := make([]string, len(m.sources))
	for i, src := range m.sources {
		names[i] = src.Name()
	}
	return names
}

func (m *SourceMultiplexer) Lines() <-chan model.IngestEnvelope { return m.out }

// pump copies src into the merged channel. Blank lines pass through because
// they can be part of a multi-line document. Envelopes without a source are
// stamped with the plugin name.
func (m *SourceMultiplexer) pump(src linesource.Source) {
	name := src.Name()
	in := src.Lines()
	for {
		var env model.IngestEnvelope
		select {
		case <-m.ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			env = e
		}
		if env.Source == "" {
			env.Source = name
		}
		select {
		case m.out <- env:
			metrics.RecordSourceLine(name)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *SourceMultiplexer) close() {
	m.closed.Do(func() { close(m.out) })
}
