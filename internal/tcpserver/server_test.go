package tcpserver

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/model"
)

func TestNewServer_DefaultLocalhostAddress(t *testing.T) {
	t.Parallel()

	s := NewServer("")
	if got := s.Addr(); got != "127.0.0.1:4000" {
		t.Fatalf("Addr() = %q, want %q", got, "127.0.0.1:4000")
	}
}

func TestNewServer_UsesConfiguredAddressAndBuffers(t *testing.T) {
	t.Parallel()

	s := NewServer("0.0.0.0:5000", ServerConfig{
		LineChannelSize: 64,
		MaxLineSize:     2048,
	})

	if got := s.Addr(); got != "0.0.0.0:5000" {
		t.Fatalf("Addr() = %q, want %q", got, "0.0.0.0:5000")
	}
	if got := cap(s.lines); got != 64 {
		t.Fatalf("line channel cap = %d, want %d", got, 64)
	}
	if got := s.conf.MaxLineSize; got != 2048 {
		t.Fatalf("max line size = %d, want %d", got, 2048)
	}
}

func TestServer_DeliversLinesPerConnection(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("{\"measurement\":\"badge\",\n\n\"time\":1,\"value\":1}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var got []model.IngestEnvelope
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case env := <-s.Lines():
			got = append(got, env)
		case <-timeout:
			t.Fatalf("received %d envelopes, want 2", len(got))
		}
	}
	if got[0].Source != "tcp" || got[0].Stream == "" || got[0].Stream != got[1].Stream {
		t.Fatalf("envelopes = %+v", got)
	}
	if got[1].Line != `"time":1,"value":1}` {
		t.Fatalf("second line = %q", got[1].Line)
	}
}

func TestServer_StopClosesLinesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0")
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		s.Stop()
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on an open connection")
	}
	if _, ok := <-s.Lines(); ok {
		t.Fatal("expected lines channel to be closed")
	}
}

func TestServer_RefusesBeyondMaxConns(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{MaxConns: 1})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	first, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial first: %v", err)
	}
	defer first.Close()
	waitFor(t, func() bool { return s.Stats().Active == 1 })

	second, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial second: %v", err)
	}
	defer second.Close()

	_ = second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := second.Read(make([]byte, 1)); err == nil {
		t.Fatal("second connection should be closed by the server")
	}
	if st := s.Stats(); st.Refused != 1 || st.Accepted != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestServer_ClosesIdleConnections(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{IdleTimeout: 50 * time.Millisecond})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return s.Stats().Accepted == 1 && s.Stats().Active == 0 })
}

func TestServer_ClosesConnectionOnOversizedLine(t *testing.T) {
	t.Parallel()

	s := NewServer("127.0.0.1:0", ServerConfig{MaxLineSize: 16})
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	conn, err := net.Dial("tcp", s.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte("short\n" + strings.Repeat("x", 64) + "\nafter\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	select {
	case env := <-s.Lines():
		if env.Line != "short" {
			t.Fatalf("first line = %q, want short", env.Line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no line received")
	}

	waitFor(t, func() bool { return s.Stats().Accepted == 1 && s.Stats().Active == 0 })
	select {
	case env := <-s.Lines():
		t.Fatalf("unexpected line after the oversized one: %q", env.Line)
	default:
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
