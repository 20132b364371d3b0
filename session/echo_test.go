package session

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tcpserve/tcpserve/pool"
	"github.com/tcpserve/tcpserve/server"
)

func TestEcho_RoundTrip(t *testing.T) {
	client, serverSide := net.Pipe()
	defer client.Close()

	sess := NewEcho(serverSide, server.DefaultConfig(), pool.New(1, 256))

	done := make(chan error, 1)
	go func() { done <- sess.Start(context.Background()) }()

	payload := []byte("hello, session")
	if _, err := client.Write(payload); err != nil {
		t.Fatal("failed to write to session:", err)
	}

	echoed := make([]byte, len(payload))
	if _, err := io.ReadFull(client, echoed); err != nil {
		t.Fatal("failed to read echo:", err)
	}
	if !bytes.Equal(payload, echoed) {
		t.Errorf("echo mismatch: want %q, got %q", payload, echoed)
	}

	if err := sess.Close(); err != nil {
		t.Error("Close() returned error:", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start() after Close want = nil, got = %v", err)
	}
}

func TestEcho_CloseIdempotent(t *testing.T) {
	_, serverSide := net.Pipe()
	sess := NewEcho(serverSide, server.DefaultConfig(), pool.New(0, 64))

	if err := sess.Close(); err != nil {
		t.Fatal("first Close() returned error:", err)
	}
	if err := sess.Close(); err != nil {
		t.Error("second Close() returned error:", err)
	}
}

func TestEcho_ReturnsBufferToPool(t *testing.T) {
	client, serverSide := net.Pipe()
	bufs := pool.New(1, 64)

	sess := NewEcho(serverSide, server.DefaultConfig(), bufs)

	done := make(chan error, 1)
	go func() { done <- sess.Start(context.Background()) }()

	// The running session holds the pool's only buffer.
	deadline := time.Now().Add(time.Second)
	for bufs.Stats().Pooled != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := bufs.Stats().Pooled; got != 0 {
		t.Fatalf("Pooled while session running want = 0, got = %d", got)
	}

	client.Close()
	if err := <-done; err != nil {
		t.Errorf("Start() after peer close want = nil, got = %v", err)
	}

	if got := bufs.Stats().Pooled; got != 1 {
		t.Errorf("Pooled after session exit want = 1, got = %d", got)
	}
}

// End to end: a server running echo sessions over real sockets.
func TestEcho_WithServer(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := server.New("127.0.0.1:0", server.DefaultConfig(), logger, NewEcho)
	if err != nil {
		t.Fatal("failed to create server:", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatal("failed to start server:", err)
	}
	defer func() {
		if err := srv.Stop(); err != nil {
			t.Error("failed to stop server:", err)
		}
	}()

	conn, err := net.Dial("tcp", srv.ListenedEndpoint().String())
	if err != nil {
		t.Fatal("failed to connect:", err)
	}
	defer conn.Close()

	payload := []byte("ping")
	if _, err := conn.Write(payload); err != nil {
		t.Fatal("failed to write:", err)
	}

	echoed := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, echoed); err != nil {
		t.Fatal("failed to read echo:", err)
	}
	if !bytes.Equal(payload, echoed) {
		t.Errorf("echo mismatch: want %q, got %q", payload, echoed)
	}
}
