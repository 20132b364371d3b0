// Package server implements the connection-acceptance and session-lifecycle
// core of the library.
//
// A Server owns one listening socket and a registry of live sessions keyed
// by remote endpoint. The accept loop wraps each inbound connection in a
// Session produced by the caller's factory and dispatches its processing on
// its own goroutine; the registry entry is added before the session starts
// and removed exactly once when its loop ends, regardless of how it ends.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime/debug"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"

	"github.com/tcpserve/tcpserve/metrics"
	"github.com/tcpserve/tcpserve/pool"
)

// ErrNotActive is returned by operations that require a running server.
var ErrNotActive = errors.New("server: not active")

// Server accepts TCP connections and manages the lifecycle of one Session
// per connection. Start, Stop, and Pending serialize on one operations lock
// so concurrent lifecycle calls cannot interleave; that lock is unrelated
// to any session- or collection-level locking.
type Server struct {
	cfg     Config
	logger  *logrus.Logger
	factory SessionFactory

	buffers  *pool.BufferPool
	sessions *Registry

	// Endpoints seen disconnecting recently, used to tell reconnects from
	// first-time connects in the logs.
	recent *gocache.Cache

	metrics *metrics.Metrics

	mu            sync.Mutex // operations lock for Start/Stop/Pending
	active        bool
	addr          *net.TCPAddr
	listener      net.Listener
	loopCancel    context.CancelFunc
	sessionCancel context.CancelFunc
	loopDone      chan struct{}
	sessionWg     *sync.WaitGroup
}

// New creates a Server that will listen on addr ("host:port"; an empty host
// binds all interfaces) and build sessions with factory. The shared buffer
// pool is constructed here, once, for the server's lifetime.
func New(addr string, cfg Config, logger *logrus.Logger, factory SessionFactory) (*Server, error) {
	if factory == nil {
		return nil, fmt.Errorf("server: session factory must not be nil")
	}

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("error resolving address %s: %w", addr, err)
	}

	if logger == nil {
		logger = logrus.New()
	}

	cfg = cfg.normalize()

	return &Server{
		cfg:      cfg,
		logger:   logger,
		factory:  factory,
		buffers:  pool.New(cfg.InitialBufferAllocationCount, cfg.ReceiveBufferSize),
		sessions: NewRegistry(),
		recent:   gocache.New(cfg.RecentDisconnectTTL, time.Minute),
		addr:     tcpAddr,
	}, nil
}

// SetMetrics attaches Prometheus collectors to the server. Must be called
// before Start; a nil value (the default) disables metrics.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// ListenedEndpoint returns the address the server is (or will be) bound to.
// After a successful Start this reflects the actual listener address, which
// matters when the configured port is 0.
func (s *Server) ListenedEndpoint() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr()
	}
	return s.addr
}

// Active reports whether the server is between a successful Start and a Stop.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SessionCount returns the number of sessions whose processing loops are
// currently running.
func (s *Server) SessionCount() int {
	return s.sessions.Len()
}

// Start binds the listening socket, applies the configured socket options,
// and launches the accept loop on its own goroutine. Calling Start on an
// already active server is a no-op. Transport-level failures during
// bind/listen are logged and absorbed, leaving the server stopped; any
// other error propagates to the caller.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return nil
	}

	listener, err := createSocket(s.addr, s.cfg)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			s.logger.Errorf("error opening socket on %v: %s", s.addr, err)
			return nil
		}
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	s.listener = listener
	s.loopCancel = loopCancel
	s.sessionCancel = sessionCancel
	s.loopDone = make(chan struct{})
	s.sessionWg = &sync.WaitGroup{}
	s.active = true

	go s.acceptLoop(loopCtx, sessionCtx, listener, s.sessionWg, s.loopDone)

	return nil
}

// Stop halts the accept loop and releases the listening socket, then waits
// for the loop goroutine to exit. Calling Stop on an inactive server is a
// no-op. Live sessions are left running until their peers disconnect unless
// DrainOnStop is set, in which case they are closed and waited for.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil
	}

	s.active = false
	s.loopCancel()
	closeErr := s.listener.Close()
	<-s.loopDone
	s.listener = nil

	if s.cfg.DrainOnStop {
		s.sessionCancel()
		s.sessions.Range(func(identity string, sess Session) bool {
			if err := sess.Close(); err != nil {
				s.logger.Warnf("error closing session %s during drain: %s", identity, err)
			}
			return true
		})
		s.sessionWg.Wait()
	}

	if closeErr != nil {
		var opErr *net.OpError
		if errors.As(closeErr, &opErr) {
			s.logger.Errorf("error closing socket on %v: %s", s.addr, closeErr)
			return nil
		}
		return closeErr
	}
	return nil
}

// Pending reports whether a connection is queued for acceptance without
// consuming it. It fails with ErrNotActive when the server is stopped.
func (s *Server) Pending() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return false, ErrNotActive
	}
	return pendingConnection(s.listener)
}

// acceptLoop blocks waiting for inbound connections and dispatches each to
// its own session goroutine. Acceptance is never serialized behind session
// processing: the loop hands a connection off and immediately goes back to
// waiting for the next one.
func (s *Server) acceptLoop(loopCtx, sessionCtx context.Context, listener net.Listener, wg *sync.WaitGroup, done chan struct{}) {
	defer close(done)

	s.logger.Infof("waiting for connections on %v", listener.Addr())

	connections := make(chan net.Conn)
	go func() {
		defer close(connections)
		for {
			connection, err := listener.Accept()
			if err != nil {
				if loopCtx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Warnf("failed to accept connection: %s", err)
				s.metrics.AcceptError()
				continue
			}
			connections <- connection
		}
	}()

	for {
		select {
		case <-loopCtx.Done():
			// The acceptor may have pulled one more connection off the
			// queue than we dispatched; close whatever is left behind.
			go func() {
				for connection := range connections {
					_ = connection.Close()
				}
			}()
			return
		case connection, ok := <-connections:
			if !ok {
				return
			}
			s.metrics.ConnectionAccepted()

			session := s.factory(connection, s.cfg, s.buffers)
			wg.Add(1)
			go s.runSession(sessionCtx, session, connection, wg)
		}
	}
}

// runSession registers the session, awaits its processing loop, and
// guarantees the registry entry is removed exactly once on every exit path,
// panics included.
func (s *Server) runSession(ctx context.Context, session Session, connection net.Conn, wg *sync.WaitGroup) {
	defer wg.Done()

	identity := session.RemoteEndpoint().String()

	// Two connections should never resolve to the same endpoint identity,
	// but if they do the second must not start: overwriting the first would
	// leave two processing loops sharing one registry key.
	if !s.sessions.Add(identity, session) {
		s.logger.Infof("rejected duplicate connection from %s", identity)
		s.metrics.DuplicateEndpoint()
		_ = connection.Close()
		return
	}

	defer s.endSession(session, identity)

	if _, seen := s.recent.Get(identity); seen {
		s.logger.Infof("accepted reconnection from %s", identity)
	} else {
		s.logger.Infof("accepted connection from %s", identity)
	}
	s.metrics.SessionStarted()

	if err := session.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warnf("session %s ended with error: %s", identity, err)
	}
}

// endSession is the failsafe that catches any panic from the session's
// processing loop, closes the connection, and removes the session from the
// registry regardless of the state of the connection.
func (s *Server) endSession(session Session, identity string) {
	if r := recover(); r != nil {
		s.logger.Errorf("panic in session %s: %v\n%s", identity, r, debug.Stack())
	}

	if err := session.Close(); err != nil {
		s.logger.Warnf("failed to close session %s: %s", identity, err)
	}

	s.sessions.Remove(identity)
	s.recent.SetDefault(identity, time.Now())
	s.metrics.SessionEnded()

	s.logger.Infof("disconnected %s", identity)
}
