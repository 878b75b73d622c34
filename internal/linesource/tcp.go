package linesource

import (
	"github.com/tinytelemetry/tsnorm/internal/model"
	"github.com/tinytelemetry/tsnorm/internal/tcpserver"
)

// TCPSource exposes a started tcpserver.Server as the "tcp" source. Each
// connection is its own stream.
type TCPSource struct {
	srv *tcpserver.Server
}

func NewTCPSource(srv *tcpserver.Server) *TCPSource { return &TCPSource{srv: srv} }

func (s *TCPSource) Name() string                       { return "tcp" }
func (s *TCPSource) Lines() <-chan model.IngestEnvelope { return s.srv.Lines() }

// Stop closes the listener and every open connection.
func (s *TCPSource) Stop() { _ = s.srv.Stop() }

// Addr is the bound listen address, useful with port 0.
func (s *TCPSource) Addr() string { return s.srv.Addr() }

// Stats reports connection counters of the underlying server.
func (s *TCPSource) Stats() tcpserver.Stats { return s.srv.Stats() }
