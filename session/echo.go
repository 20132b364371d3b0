// Package session contains Session implementations for the server. The
// server core treats sessions as opaque collaborators; Echo is the simplest
// useful one and doubles as the reference for writing protocol sessions.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/tcpserve/tcpserve/pool"
	"github.com/tcpserve/tcpserve/server"
)

// Echo writes every byte it receives back to the peer. It borrows its read
// buffer from the server's shared pool and returns it when the loop exits.
type Echo struct {
	conn    net.Conn
	buffers *pool.BufferPool

	closeOnce sync.Once
	closeErr  error
}

// NewEcho wraps an accepted connection in an echo session. Its signature
// matches server.SessionFactory so it can be passed to server.New directly.
func NewEcho(conn net.Conn, _ server.Config, buffers *pool.BufferPool) server.Session {
	return &Echo{conn: conn, buffers: buffers}
}

// RemoteEndpoint returns the peer's address.
func (e *Echo) RemoteEndpoint() net.Addr {
	return e.conn.RemoteAddr()
}

// Start runs the read/write loop until the peer disconnects, the connection
// is closed out from under it, or ctx is cancelled.
func (e *Echo) Start(ctx context.Context) error {
	buffer := e.buffers.Take()
	defer e.buffers.Put(buffer)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := e.conn.Read(buffer)
		if n > 0 {
			if _, werr := e.conn.Write(buffer[:n]); werr != nil {
				return loopExitErr(werr)
			}
		}

		if err == io.EOF {
			return nil
		} else if err != nil {
			return loopExitErr(err)
		}
	}
}

// Close shuts the connection down. Safe to call multiple times and
// concurrently with Start.
func (e *Echo) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.conn.Close()
	})
	return e.closeErr
}

// loopExitErr maps the errors produced when the server closes the
// connection out from under the loop to a clean exit.
func loopExitErr(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
