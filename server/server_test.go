package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tcpserve/tcpserve/pool"
)

// Let the OS choose the port for us.
const testAddr = "127.0.0.1:0"

// readerSession drains its connection until the peer disconnects.
type readerSession struct {
	conn      net.Conn
	closeOnce sync.Once
}

func (s *readerSession) RemoteEndpoint() net.Addr { return s.conn.RemoteAddr() }

func (s *readerSession) Start(context.Context) error {
	buf := make([]byte, 64)
	for {
		if _, err := s.conn.Read(buf); err != nil {
			return nil
		}
	}
}

func (s *readerSession) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}

func readerFactory(conn net.Conn, _ Config, _ *pool.BufferPool) Session {
	return &readerSession{conn: conn}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T, cfg Config, factory SessionFactory) *Server {
	t.Helper()

	s, err := New(testAddr, cfg, testLogger(), factory)
	if err != nil {
		t.Fatal("failed to create server:", err)
	}

	t.Cleanup(func() {
		if err := s.Stop(); err != nil {
			t.Error("failed to stop server:", err)
		}
	})
	return s
}

func startTestServer(t *testing.T, cfg Config, factory SessionFactory) *Server {
	t.Helper()

	s := newTestServer(t, cfg, factory)
	if err := s.Start(); err != nil {
		t.Fatal("failed to start server:", err)
	}
	if !s.Active() {
		t.Fatal("server did not become active")
	}
	return s
}

func dialServer(t *testing.T, s *Server) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", s.ListenedEndpoint().String())
	if err != nil {
		t.Fatal("failed to connect to server:", err)
	}
	return conn
}

func waitForSessionCount(t *testing.T, s *Server, want int) {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.SessionCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for session count %d, still at %d", want, s.SessionCount())
}

func TestNew_InvalidAddress(t *testing.T) {
	if _, err := New("not-an-address:port", Config{}, testLogger(), readerFactory); err == nil {
		t.Error("New() with an unresolvable address want = error, got = nil")
	}
}

func TestNew_NilFactory(t *testing.T) {
	if _, err := New(testAddr, Config{}, testLogger(), nil); err == nil {
		t.Error("New() with a nil factory want = error, got = nil")
	}
}

func TestStartStop_Idempotent(t *testing.T) {
	s := newTestServer(t, Config{}, readerFactory)

	if s.Active() {
		t.Fatal("server active before Start")
	}

	if err := s.Start(); err != nil {
		t.Fatal("Start() returned error:", err)
	}
	if err := s.Start(); err != nil {
		t.Error("second Start() returned error:", err)
	}
	if !s.Active() {
		t.Error("server not active after Start")
	}

	if err := s.Stop(); err != nil {
		t.Fatal("Stop() returned error:", err)
	}
	if err := s.Stop(); err != nil {
		t.Error("second Stop() returned error:", err)
	}
	if s.Active() {
		t.Error("server still active after Stop")
	}
}

func TestStartStop_Restart(t *testing.T) {
	s := newTestServer(t, Config{}, readerFactory)

	for i := 0; i < 3; i++ {
		if err := s.Start(); err != nil {
			t.Fatalf("Start() on cycle %d returned error: %v", i, err)
		}
		if !s.Active() {
			t.Fatalf("server not active on cycle %d", i)
		}
		if err := s.Stop(); err != nil {
			t.Fatalf("Stop() on cycle %d returned error: %v", i, err)
		}
	}
}

func TestStartStop_Concurrent(t *testing.T) {
	s := newTestServer(t, Config{}, readerFactory)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.Start(); err != nil {
				t.Error("concurrent Start() returned error:", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				t.Error("concurrent Stop() returned error:", err)
			}
		}()
	}
	wg.Wait()
}

func TestPending_NotActive(t *testing.T) {
	s := newTestServer(t, Config{}, readerFactory)

	if _, err := s.Pending(); !errors.Is(err, ErrNotActive) {
		t.Errorf("Pending() on stopped server want = ErrNotActive, got = %v", err)
	}
}

func TestPending_Active(t *testing.T) {
	s := startTestServer(t, Config{}, readerFactory)

	if _, err := s.Pending(); err != nil {
		t.Errorf("Pending() on active server returned error: %v", err)
	}
}

func TestTransportFailureAbsorbed(t *testing.T) {
	first := startTestServer(t, Config{}, readerFactory)

	// Binding the same port again is a transport-level failure; it must be
	// logged and absorbed, leaving the second server cleanly stopped.
	second, err := New(first.ListenedEndpoint().String(), Config{}, testLogger(), readerFactory)
	if err != nil {
		t.Fatal("failed to create second server:", err)
	}

	if err := second.Start(); err != nil {
		t.Errorf("Start() on an occupied port want = nil, got = %v", err)
	}
	if second.Active() {
		t.Error("second server became active despite bind failure")
	}
}

func TestSessionCount_ConcurrentConnections(t *testing.T) {
	s := startTestServer(t, Config{PendingConnectionBacklog: 5}, readerFactory)

	if s.SessionCount() != 0 {
		t.Fatalf("SessionCount() before connections want = 0, got = %d", s.SessionCount())
	}

	conns := make([]net.Conn, 3)
	for i := range conns {
		conns[i] = dialServer(t, s)
	}
	waitForSessionCount(t, s, 3)

	// Closing from the client side must bring the count back to zero
	// without the server being stopped.
	for _, conn := range conns {
		if err := conn.Close(); err != nil {
			t.Error("failed to close connection:", err)
		}
	}
	waitForSessionCount(t, s, 0)

	if !s.Active() {
		t.Error("server stopped while only sessions ended")
	}
}

// fixedEndpointSession reports a constant endpoint identity regardless of
// its underlying connection, to force registry key collisions.
type fixedEndpointSession struct {
	readerSession
	endpoint net.Addr
}

func (s *fixedEndpointSession) RemoteEndpoint() net.Addr { return s.endpoint }

func TestDuplicateEndpointIdentityRejected(t *testing.T) {
	endpoint, err := net.ResolveTCPAddr("tcp", "10.1.2.3:4000")
	if err != nil {
		t.Fatal("failed to resolve endpoint:", err)
	}

	factory := func(conn net.Conn, _ Config, _ *pool.BufferPool) Session {
		return &fixedEndpointSession{
			readerSession: readerSession{conn: conn},
			endpoint:      endpoint,
		}
	}
	s := startTestServer(t, Config{}, factory)

	first := dialServer(t, s)
	defer first.Close()
	waitForSessionCount(t, s, 1)

	// The second connection resolves to the same identity and must never
	// have its session started; the server closes it instead.
	second := dialServer(t, s)
	defer second.Close()

	if _, err := second.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read on rejected connection want = io.EOF, got = %v", err)
	}
	if s.SessionCount() != 1 {
		t.Errorf("SessionCount() want = 1, got = %d", s.SessionCount())
	}
}

func TestStop_LeavesSessionsRunning(t *testing.T) {
	s := startTestServer(t, Config{}, readerFactory)

	conn := dialServer(t, s)
	waitForSessionCount(t, s, 1)

	if err := s.Stop(); err != nil {
		t.Fatal("Stop() returned error:", err)
	}

	// Without DrainOnStop, the in-flight session keeps running until its
	// peer disconnects.
	time.Sleep(50 * time.Millisecond)
	if s.SessionCount() != 1 {
		t.Errorf("SessionCount() after Stop want = 1, got = %d", s.SessionCount())
	}

	if err := conn.Close(); err != nil {
		t.Error("failed to close connection:", err)
	}
	waitForSessionCount(t, s, 0)
}

func TestStop_DrainOnStop(t *testing.T) {
	s := startTestServer(t, Config{DrainOnStop: true}, readerFactory)

	conn := dialServer(t, s)
	defer conn.Close()
	waitForSessionCount(t, s, 1)

	if err := s.Stop(); err != nil {
		t.Fatal("Stop() returned error:", err)
	}

	if s.SessionCount() != 0 {
		t.Errorf("SessionCount() after draining Stop want = 0, got = %d", s.SessionCount())
	}
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read on drained connection want = io.EOF, got = %v", err)
	}
}

// panicSession blows up as soon as it starts, to exercise the guaranteed
// cleanup path.
type panicSession struct {
	readerSession
}

func (s *panicSession) Start(context.Context) error { panic("session exploded") }

func TestSessionPanicStillDeregisters(t *testing.T) {
	factory := func(conn net.Conn, _ Config, _ *pool.BufferPool) Session {
		return &panicSession{readerSession{conn: conn}}
	}
	s := startTestServer(t, Config{}, factory)

	conn := dialServer(t, s)
	defer conn.Close()

	// The panic must be recovered, the connection closed, and the registry
	// entry removed; the server itself stays up.
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read on panicked session's connection want = io.EOF, got = %v", err)
	}
	waitForSessionCount(t, s, 0)

	if !s.Active() {
		t.Error("server stopped after session panic")
	}
}
