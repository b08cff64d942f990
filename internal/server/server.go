package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"
)

type ConnectionHandler interface {
	Handle(ctx context.Context, conn net.Conn)
}

type TCPServerOptions struct {
	Addr    string
	Handler ConnectionHandler
	Logger  *slog.Logger
	// MaxConns caps connections being handled at once. Accept blocks at the
	// cap, so excess clients queue in the kernel backlog. 0 disables it.
	MaxConns int
}

// TCPServer runs one goroutine per accepted connection.
type TCPServer struct {
	opts TCPServerOptions
	log  *slog.Logger

	mu sync.Mutex
	ln net.Listener

	listening atomic.Bool
	active    atomic.Int64
	handlers  sync.WaitGroup
}

func NewTCPServer(opts TCPServerOptions) *TCPServer {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &TCPServer{opts: opts, log: log.With("listen_addr", opts.Addr)}
}

func (s *TCPServer) IsListening() bool { return s.listening.Load() }

// Active returns the number of connections currently being handled.
func (s *TCPServer) Active() int64 { return s.active.Load() }

// Addr returns the bound address once listening, else the configured one.
func (s *TCPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return s.opts.Addr
	}
	return s.ln.Addr().String()
}

func (s *TCPServer) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts on ln until Shutdown closes it, then returns nil. Timeout
// errors from Accept (e.g. EMFILE surfaced as temporary) are retried with
// backoff; anything else ends Serve.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener) error {
	if s.opts.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.opts.MaxConns)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	s.listening.Store(true)
	defer s.listening.Store(false)
	s.log.Info("server: listening", "addr", ln.Addr().String(), "max_conns", s.opts.MaxConns)

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		switch {
		case err == nil:
			delay = 0
			s.dispatch(ctx, conn)
			continue
		case errors.Is(err, net.ErrClosed):
			return nil
		}
		var ne net.Error
		if !errors.As(err, &ne) || !ne.Timeout() {
			return err
		}
		delay = min(max(2*delay, 5*time.Millisecond), time.Second)
		s.log.Warn("server: accept failed; retrying", "backoff", delay, "err", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			_ = ln.Close()
			return nil
		}
	}
}

func (s *TCPServer) dispatch(ctx context.Context, conn net.Conn) {
	s.handlers.Add(1)
	s.active.Add(1)
	go func() {
		defer s.handlers.Done()
		defer s.active.Add(-1)
		s.opts.Handler.Handle(ctx, conn)
	}()
}

// Shutdown closes the listener and waits for running handlers until ctx
// is done.
func (s *TCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
