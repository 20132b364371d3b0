package server

import (
	"context"
	"net"

	"github.com/tcpserve/tcpserve/pool"
)

// Session represents one accepted connection and its processing loop. The
// server owns the session's lifecycle (registration, dispatch, cleanup) but
// delegates all byte-level protocol handling to the implementation.
type Session interface {
	// RemoteEndpoint returns the peer's address. Its string form is the
	// session's identity in the server's registry and must be stable for
	// the lifetime of the connection.
	RemoteEndpoint() net.Addr

	// Start runs the session's processing loop and only returns once the
	// connection has ended, whether by the peer disconnecting, a protocol
	// error, or ctx being cancelled.
	Start(ctx context.Context) error

	// Close releases the session's connection. It must be safe to call
	// multiple times and concurrently with Start.
	Close() error
}

// SessionFactory builds a Session around a freshly accepted connection. The
// server calls it once per connection from the accept loop, passing its own
// configuration and shared buffer pool; the returned session owns conn.
type SessionFactory func(conn net.Conn, cfg Config, buffers *pool.BufferPool) Session
