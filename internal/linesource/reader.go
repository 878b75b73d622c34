package linesource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	DefaultReaderBuffer      = 50_000
	DefaultReaderMaxLineSize = 1 << 20
)

// ReaderConfig tunes a ReaderSource. Zero fields take the defaults.
type ReaderConfig struct {
	BufferSize  int
	MaxLineSize int
}

// StdinConfig is kept for callers configuring the stdin source.
type StdinConfig = ReaderConfig

// ReaderSource emits the non-empty lines of an io.Reader until EOF or Stop.
type ReaderSource struct {
	name   string
	stream string
	ch     chan model.IngestEnvelope
	cancel context.CancelFunc
	once   sync.Once
}

// NewStdinSource reads standard input.
func NewStdinSource(ctx context.Context, conf ...ReaderConfig) *ReaderSource {
	return newReaderSource(ctx, "stdin", "", os.Stdin, nil, conf...)
}

// NewFileSource reads one file from the start. Each file is its own stream,
// so a document cut at the end of one file never joins the next.
func NewFileSource(ctx context.Context, path string, conf ...ReaderConfig) (*ReaderSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("linesource: %w", err)
	}
	return newReaderSource(ctx, "file", filepath.Base(path), f, f, conf...), nil
}

func newReaderSource(ctx context.Context, name, stream string, r io.Reader, closer io.Closer, conf ...ReaderConfig) *ReaderSource {
	var c ReaderConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultReaderBuffer
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = DefaultReaderMaxLineSize
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &ReaderSource{
		name:   name,
		stream: stream,
		ch:     make(chan model.IngestEnvelope, c.BufferSize),
		cancel: cancel,
	}
	raw := make(chan string)
	go scanLines(ctx, name, r, c.MaxLineSize, raw)
	go s.run(ctx, raw, closer)
	return s
}

// scanLines does the blocking reads. It may outlive Stop while blocked on a
// reader that cannot be interrupted, such as a terminal.
func scanLines(ctx context.Context, name string, r io.Reader, maxLine int, out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, min(64*1024, maxLine)), maxLine)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		select {
		case out <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
	switch err := sc.Err(); {
	case err == nil, ctx.Err() != nil:
	case errors.Is(err, bufio.ErrTooLong):
		logging.Errorf("linesource: %s line longer than %d bytes, source stopped", name, maxLine)
	default:
		logging.Errorf("linesource: %s read: %v", name, err)
	}
}

func (s *ReaderSource) run(ctx context.Context, raw <-chan string, closer io.Closer) {
	defer close(s.ch)
	if closer != nil {
		// Closing unblocks scanLines when Stop interrupts a file read.
		defer closer.Close()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-raw:
			if !ok {
				return
			}
			select {
			case s.ch <- model.IngestEnvelope{Source: s.name, Stream: s.stream, Line: line}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *ReaderSource) Lines() <-chan model.IngestEnvelope { return s.ch }
func (s *ReaderSource) Stop()                              { s.once.Do(s.cancel) }
func (s *ReaderSource) Name() string                       { return s.name }
