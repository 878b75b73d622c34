// Package tcpserver accepts newline-delimited JSON documents over TCP.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

const (
	DefaultAddr            = "127.0.0.1:4000"
	DefaultLineChannelSize = 100_000
	DefaultMaxLineSize     = 1 << 20
	DefaultMaxConns        = 256
)

// ServerConfig tunes a Server. Zero fields take the defaults. IdleTimeout of
// zero means connections are never timed out.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	MaxConns        int
	IdleTimeout     time.Duration
}

// Server turns each connection into its own stream of lines, so documents
// that span lines can be reassembled per sender.
type Server struct {
	addr     string
	conf     ServerConfig
	listener net.Listener
	lines    chan model.IngestEnvelope
	slots    *semaphore.Weighted

	active   atomic.Int64
	accepted atomic.Int64
	refused  atomic.Int64

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewServer returns an unstarted server. An empty addr means DefaultAddr.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	var c ServerConfig
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.LineChannelSize <= 0 {
		c.LineChannelSize = DefaultLineChannelSize
	}
	if c.MaxLineSize <= 0 {
		c.MaxLineSize = DefaultMaxLineSize
	}
	if c.MaxConns <= 0 {
		c.MaxConns = DefaultMaxConns
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		conf:   c,
		lines:  make(chan model.IngestEnvelope, c.LineChannelSize),
		slots:  semaphore.NewWeighted(int64(c.MaxConns)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start binds the listener and begins accepting in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logging.Warnf("tcpserver: accept: %v", err)
			continue
		}
		if !s.slots.TryAcquire(1) {
			s.refused.Add(1)
			logging.Warnf("tcpserver: refusing %s, %d connections open", conn.RemoteAddr(), s.conf.MaxConns)
			conn.Close()
			continue
		}
		s.accepted.Add(1)
		s.active.Add(1)
		s.wg.Add(1)
		go func() {
			defer func() {
				s.active.Add(-1)
				s.slots.Release(1)
				s.wg.Done()
			}()
			s.serve(conn)
		}()
	}
}

func (s *Server) serve(conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(s.ctx, func() { conn.Close() })
	defer stop()

	stream := conn.RemoteAddr().String()
	sc := bufio.NewScanner(conn)
	// a larger initial buffer would raise the effective limit to its size
	sc.Buffer(make([]byte, 0, min(64*1024, s.conf.MaxLineSize)), s.conf.MaxLineSize)

	for {
		if s.conf.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.conf.IdleTimeout))
		}
		if !sc.Scan() {
			break
		}
		line := sc.Text()
		if line == "" {
			continue
		}
		select {
		case s.lines <- model.IngestEnvelope{Source: "tcp", Stream: stream, Line: line}:
		case <-s.ctx.Done():
			return
		}
	}

	err := sc.Err()
	switch {
	case err == nil, s.ctx.Err() != nil:
	case errors.Is(err, bufio.ErrTooLong):
		logging.Warnf("tcpserver: closing %s, line longer than %d bytes", stream, s.conf.MaxLineSize)
	case errors.Is(err, os.ErrDeadlineExceeded):
		logging.Debugf("tcpserver: closing idle connection %s", stream)
	default:
		logging.Warnf("tcpserver: read from %s: %v", stream, err)
	}
}

// Stop closes the listener and every open connection, then closes Lines.
// Repeated calls are no-ops.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		close(s.lines)
	})
	return nil
}

// Lines delivers one envelope per non-empty line received.
func (s *Server) Lines() <-chan model.IngestEnvelope { return s.lines }

// Addr is the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stats reports connection counters.
type Stats struct {
	Active   int64
	Accepted int64
	Refused  int64
}

func (s *Server) Stats() Stats {
	return Stats{Active: s.active.Load(), Accepted: s.accepted.Load(), Refused: s.refused.Load()}
}
