// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z5labs/staticd/internal/slogfield"
	"github.com/z5labs/staticd/internal/try"
	"github.com/z5labs/staticd/internal/workerpool"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const instrumentationName = "github.com/z5labs/staticd/server"

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ListenError is returned by [Listen] when the port can not be bound.
type ListenError struct {
	Addr  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ListenError) Error() string {
	return fmt.Sprintf("failed to listen on %s: %s", e.Addr, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ListenError) Unwrap() error {
	return e.Cause
}

// AcceptError is returned by [Server.Run] when the listener fails while
// the server is still supposed to be running.
type AcceptError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e AcceptError) Error() string {
	return fmt.Sprintf("listener failed: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e AcceptError) Unwrap() error {
	return e.Cause
}

// Option configures a [Server].
type Option func(*Server)

// Logger sets the logger used by the Server and its sessions.
func Logger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// Server accepts connections and hands each one to a worker which serves
// it until it is closed. When every worker is busy the connection is
// answered with a 503 instead of being queued.
type Server struct {
	cfg     Config
	ln      net.Listener
	handler Handler
	pool    *workerpool.Pool
	busy    *BusyResponder
	log     *slog.Logger
	tracer  trace.Tracer
	metrics *metrics

	running  atomic.Bool
	stopOnce sync.Once
	connIDs  atomic.Uint64
}

// Listen validates cfg, binds the listening socket and starts the
// minimum number of ready workers. Connections are not accepted until
// [Server.Run] is called.
func Listen(cfg Config, h Handler, opts ...Option) (*Server, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		handler: h,
		log:     slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics, err = newMetrics(otel.Meter(instrumentationName))
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, ListenError{Addr: cfg.Addr(), Cause: err}
	}

	s.ln = ln
	s.busy = NewBusyResponder(cfg.BusyWriteTimeout, s.log)
	s.pool = workerpool.New(
		cfg.MaxWorkers,
		workerpool.MinReady(cfg.MinReadyWorkers),
		workerpool.Logger(s.log),
	)
	s.running.Store(true)
	return s, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Run accepts connections until [Server.Stop] is called or ctx is
// cancelled. It returns nil after a requested stop and an [AcceptError]
// if the listener failed on its own.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.log.InfoContext(ctx, "accepting connections", slogfield.String("addr", s.Addr().String()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		s.Stop()
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return s.accept(gctx)
	})
	return g.Wait()
}

// Stop closes the listener and interrupts every session. It does not
// wait for sessions to finish. Stop may be called from any goroutine and
// more than once.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)

		err := s.ln.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			s.log.Warn("failed to close listener", slogfield.Error(err))
		}

		s.pool.ShutdownNow()
		s.log.Info("server stopped")
	})
}

// Wait blocks until every worker has exited. It is only meaningful after
// [Server.Stop].
func (s *Server) Wait() {
	s.pool.Wait()
}

func (s *Server) accept(ctx context.Context) error {
	var backoff time.Duration
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if !s.running.Load() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) || isTimeout(err) {
				s.log.ErrorContext(ctx, "listener failed, stopping server", slogfield.Error(err))
				s.Stop()
				return AcceptError{Cause: err}
			}

			backoff = nextBackoff(backoff)
			s.log.WarnContext(
				ctx,
				"failed to accept connection",
				slogfield.Duration("retry_in", backoff),
				slogfield.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		err = s.admit(ctx, conn)
		if err != nil {
			s.log.WarnContext(ctx, "failed to admit connection", slogfield.RemoteAddr(conn.RemoteAddr()), slogfield.Error(err))
		}
	}
}

// admit hands conn to a worker or, if none is free, rejects it on the
// calling goroutine.
func (s *Server) admit(ctx context.Context, conn net.Conn) (err error) {
	defer try.Recover(&err)

	sess := &session{
		id:          s.connIDs.Add(1),
		conn:        conn,
		br:          bufio.NewReader(conn),
		handler:     s.handler,
		idleTimeout: s.cfg.IdleTimeout,
		log:         s.log,
		tracer:      s.tracer,
		metrics:     s.metrics,
	}

	err = s.pool.TrySubmit(sess.serve)
	switch {
	case err == nil:
		s.metrics.accepted.Add(ctx, 1)
		s.log.DebugContext(ctx, "accepted connection", slogfield.Uint64("conn_id", sess.id), slogfield.RemoteAddr(conn.RemoteAddr()))
		return nil
	case errors.Is(err, workerpool.ErrSaturated):
		s.metrics.rejected.Add(ctx, 1)
		return s.busy.Respond(ctx, conn)
	case errors.Is(err, workerpool.ErrClosed):
		conn.Close()
		return nil
	default:
		conn.Close()
		return err
	}
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	return min(2*d, maxAcceptBackoff)
}
