package socketrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
	"github.com/tinytelemetry/tsnorm/internal/logging"
	"github.com/tinytelemetry/tsnorm/internal/model"
)

// Server answers querier calls on a Unix socket.
type Server struct {
	path  string
	store model.MeasurementQuerier

	ln       net.Listener
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(socketPath string, store model.MeasurementQuerier) *Server {
	return &Server{
		path:  socketPath,
		store: store,
		done:  make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
}

// Start binds the socket. A leftover socket file nobody answers on is
// replaced; a live one is an error.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}
	if err := clearStaleSocket(s.path); err != nil {
		return err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.serve()
	logging.Infof("socketrpc: listening on %s", s.path)
	return nil
}

func clearStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err == nil {
		conn.Close()
		return fmt.Errorf("socketrpc: another server is already listening on %s", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("socketrpc: remove stale socket: %w", err)
	}
	return nil
}

// Stop closes the listener and every open connection, waits for handlers and
// removes the socket file. Safe to call twice.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.ln != nil {
			s.ln.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		os.Remove(s.path)
	})
}

func (s *Server) stopping() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.stopping() {
				return
			}
			// fd exhaustion and friends are transient
			logging.Warnf("socketrpc: accept: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if !s.track(conn, true) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			defer conn.Close()
			s.handle(conn)
		}()
	}
}

func (s *Server) track(conn net.Conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, conn)
		return true
	}
	if s.stopping() {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handle(conn net.Conn) {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	for sc.Scan() && !s.stopping() {
		var resp Response
		var req Request
		if err := jsonx.Unmarshal(sc.Bytes(), &req); err != nil {
			resp = Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParseError, Message: "parse error"}}
		} else {
			resp = s.dispatch(req)
		}
		if err := writeLine(conn, resp); err != nil {
			return
		}
	}
}

// writeLine sends v as one JSON line.
func writeLine(w io.Writer, v any) error {
	data, err := jsonx.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}
