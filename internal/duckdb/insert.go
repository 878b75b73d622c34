package duckdb

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/metrics"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	DefaultBatchSize      = 2000
	DefaultFlushInterval  = 100 * time.Millisecond
	DefaultFlushQueueSize = 64

	journalRetry     = 200 * time.Millisecond
	inlineWarnPeriod = 10 * time.Second
)

type durableJournal interface {
	Append(record *model.MeasurementRecord) (uint64, error)
	Commit(seq uint64) error
	Close() error
}

type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	// Journal, when set, makes each record durable before Add returns. A
	// batch commits its highest sequence once it is stored.
	Journal durableJournal
}

func (c InsertBufferConfig) withDefaults() InsertBufferConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.FlushQueueSize <= 0 {
		c.FlushQueueSize = DefaultFlushQueueSize
	}
	return c
}

// pendingRecord is a record plus its journal sequence, 0 without a journal.
type pendingRecord struct {
	seq    uint64
	record *model.MeasurementRecord
}

// InsertBuffer collects records into batches for a MeasurementWriter. Full
// batches and the periodic flush go to one background writer; when its queue
// is full the caller writes the batch itself.
type InsertBuffer struct {
	writer model.MeasurementWriter
	conf   InsertBufferConfig

	mu      sync.Mutex
	pending []pendingRecord

	queue      chan []pendingRecord
	sendMu     sync.RWMutex
	closed     bool
	done       chan struct{}
	tickerDone chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once

	inlineFlushes atomic.Int64
	lastWarn      atomic.Int64
}

func NewInsertBuffer(writer model.MeasurementWriter, conf ...InsertBufferConfig) *InsertBuffer {
	var c InsertBufferConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	c = c.withDefaults()

	b := &InsertBuffer{
		writer:     writer,
		conf:       c,
		pending:    make([]pendingRecord, 0, c.BatchSize),
		queue:      make(chan []pendingRecord, c.FlushQueueSize),
		done:       make(chan struct{}),
		tickerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	go b.writeLoop()
	go b.tickLoop()
	return b
}

// Add queues record. Records without an event id get a random one. Records
// added after Stop are written only once they fill a batch.
func (b *InsertBuffer) Add(record *model.MeasurementRecord) {
	if record == nil {
		return
	}
	if record.EventID == "" {
		record.EventID = uuid.NewString()
	}

	var seq uint64
	if b.conf.Journal != nil {
		var ok bool
		if seq, ok = b.appendJournal(record); !ok {
			return
		}
	}

	b.mu.Lock()
	b.pending = append(b.pending, pendingRecord{seq: seq, record: record})
	var full []pendingRecord
	if len(b.pending) >= b.conf.BatchSize {
		full = b.takePendingLocked()
	}
	b.mu.Unlock()

	if full != nil {
		b.handOff(full)
	}
}

// appendJournal retries until the journal accepts record or the buffer stops.
func (b *InsertBuffer) appendJournal(record *model.MeasurementRecord) (uint64, bool) {
	for {
		seq, err := b.conf.Journal.Append(record)
		if err == nil {
			return seq, true
		}
		logging.Warnf("duckdb: journal append failed, retrying: %v", err)
		select {
		case <-b.done:
			return 0, false
		case <-time.After(journalRetry):
		}
	}
}

func (b *InsertBuffer) takePendingLocked() []pendingRecord {
	batch := b.pending
	b.pending = make([]pendingRecord, 0, b.conf.BatchSize)
	return batch
}

func (b *InsertBuffer) flushPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.takePendingLocked()
	b.mu.Unlock()
	b.handOff(batch)
}

func (b *InsertBuffer) handOff(batch []pendingRecord) {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if !b.closed {
		select {
		case b.queue <- batch:
			return
		default:
		}
		b.warnInline()
	}
	if err := b.write(batch); err != nil {
		logging.Errorf("duckdb: inline flush: %v", err)
	}
}

func (b *InsertBuffer) warnInline() {
	n := b.inlineFlushes.Add(1)
	now := time.Now().UnixNano()
	last := b.lastWarn.Load()
	if time.Duration(now-last) >= inlineWarnPeriod && b.lastWarn.CompareAndSwap(last, now) {
		logging.Warnf("duckdb: flush queue full, %d batches written inline so far", n)
	}
}

func (b *InsertBuffer) tickLoop() {
	defer close(b.tickerDone)
	t := time.NewTicker(b.conf.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			b.flushPending()
		case <-b.done:
			b.flushPending()
			return
		}
	}
}

func (b *InsertBuffer) writeLoop() {
	defer close(b.writerDone)
	for batch := range b.queue {
		if err := b.write(batch); err != nil {
			logging.Errorf("duckdb: flush: %v", err)
		}
	}
}

// write stores batch and then commits its journal sequence. A failed insert
// leaves the journal uncommitted so the records replay on restart.
func (b *InsertBuffer) write(batch []pendingRecord) error {
	if len(batch) == 0 {
		return nil
	}
	records := make([]*model.MeasurementRecord, len(batch))
	var top uint64
	for i, p := range batch {
		records[i] = p.record
		top = max(top, p.seq)
	}

	start := time.Now()
	err := b.writer.InsertMeasurementBatch(records)
	metrics.RecordStoreFlush(time.Since(start), len(records), err)
	if err != nil {
		return err
	}
	if b.conf.Journal == nil || top == 0 {
		return nil
	}
	if err := b.conf.Journal.Commit(top); err != nil {
		return fmt.Errorf("journal commit seq=%d: %w", top, err)
	}
	return nil
}

// Stop writes whatever is pending, waits for the writer and closes the
// journal. Later calls do nothing.
func (b *InsertBuffer) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		<-b.tickerDone
		b.sendMu.Lock()
		b.closed = true
		close(b.queue)
		b.sendMu.Unlock()
		<-b.writerDone
		if b.conf.Journal != nil {
			if err := b.conf.Journal.Close(); err != nil {
				logging.Warnf("duckdb: journal close: %v", err)
			}
		}
	})
}

// Pending is the number of records not yet handed to the writer.
func (b *InsertBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
