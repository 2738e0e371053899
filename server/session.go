// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/z5labs/staticd/http1"
	"github.com/z5labs/staticd/internal/otelslog"
	"github.com/z5labs/staticd/internal/slogfield"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler produces the complete response for a request and writes it to w.
// A returned error means the connection can not be reused.
type Handler interface {
	Handle(ctx context.Context, req *http1.Request, w io.Writer) error
}

// HandlerFunc is an adapter to allow the use of ordinary functions as Handlers.
type HandlerFunc func(context.Context, *http1.Request, io.Writer) error

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(ctx context.Context, req *http1.Request, w io.Writer) error {
	return f(ctx, req, w)
}

type state int

const (
	stateReading state = iota
	stateDispatching
	stateClosing
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateReading:
		return "reading"
	case stateDispatching:
		return "dispatching"
	case stateClosing:
		return "closing"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// readOutcome classifies the result of waiting for the next request.
type readOutcome int

const (
	outcomeRequest readOutcome = iota
	outcomePeerClosed
	outcomeTimeout
	outcomeMalformed
	outcomeInterrupted
	outcomeIOError
)

func (o readOutcome) String() string {
	switch o {
	case outcomeRequest:
		return "request"
	case outcomePeerClosed:
		return "peer closed"
	case outcomeTimeout:
		return "timeout"
	case outcomeMalformed:
		return "malformed request"
	case outcomeInterrupted:
		return "interrupted"
	case outcomeIOError:
		return "io error"
	default:
		return "unknown"
	}
}

func classifyRead(ctx context.Context, err error) readOutcome {
	var perr *http1.ParseError
	switch {
	case err == nil:
		return outcomeRequest
	case ctx.Err() != nil:
		return outcomeInterrupted
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return outcomePeerClosed
	case errors.Is(err, os.ErrDeadlineExceeded):
		return outcomeTimeout
	case errors.As(err, &perr):
		return outcomeMalformed
	default:
		return outcomeIOError
	}
}

// session owns one connection for its whole lifetime and serves its
// requests strictly one after another. All fields are only touched by
// the worker running serve, except conn which may also be closed by
// pool shutdown.
type session struct {
	id          uint64
	conn        net.Conn
	br          *bufio.Reader
	handler     Handler
	idleTimeout time.Duration
	log         *slog.Logger
	tracer      trace.Tracer
	metrics     *metrics

	state     state
	req       *http1.Request
	closeOnce sync.Once
}

// serve runs the state machine until the connection is closed. Only
// defects are returned; everything a peer can cause is logged here.
func (s *session) serve(ctx context.Context) error {
	ctx = otelslog.ContextWithAttrs(
		ctx,
		slogfield.Uint64("conn_id", s.id),
		slogfield.RemoteAddr(s.conn.RemoteAddr()),
	)

	ctx, span := s.tracer.Start(ctx, "session", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	s.metrics.sessions.Add(ctx, 1)
	defer s.metrics.sessions.Add(ctx, -1)

	stop := context.AfterFunc(ctx, func() {
		s.close(ctx)
	})
	defer stop()
	defer func() {
		s.close(ctx)
		s.state = stateClosed
	}()

	s.log.DebugContext(ctx, "serving connection")

	var defect error
	for s.state != stateClosing {
		switch s.state {
		case stateReading:
			s.state = s.read(ctx)
		case stateDispatching:
			s.state, defect = s.dispatch(ctx)
		}
	}

	if defect != nil {
		span.RecordError(defect)
		span.SetStatus(codes.Error, defect.Error())
	}
	return defect
}

func (s *session) read(ctx context.Context) state {
	err := s.conn.SetReadDeadline(time.Now().Add(s.idleTimeout))
	if err != nil {
		s.log.InfoContext(ctx, "failed to arm idle timeout", slogfield.Error(err))
		return stateClosing
	}

	req, err := http1.ReadRequest(s.br)
	outcome := classifyRead(ctx, err)
	switch outcome {
	case outcomeRequest:
		s.req = req
		return stateDispatching
	case outcomePeerClosed:
		s.log.DebugContext(ctx, "client closed connection")
	case outcomeTimeout:
		s.log.InfoContext(ctx, "keep-alive timeout", slogfield.Duration("idle_timeout", s.idleTimeout))
	case outcomeInterrupted:
		s.log.DebugContext(ctx, "server stopping, dropping connection")
	default:
		s.log.InfoContext(ctx, "failed to read request", slogfield.String("outcome", outcome.String()), slogfield.Error(err))
	}
	return stateClosing
}

func (s *session) dispatch(ctx context.Context) (state, error) {
	req := s.req
	s.req = nil

	start := time.Now()
	ctx, span := s.tracer.Start(
		otel.GetTextMapPropagator().Extract(ctx, &req.Header),
		"request",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithLinks(trace.LinkFromContext(ctx)),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.target", req.URI),
			attribute.String("http.flavor", req.Proto),
		),
	)
	defer span.End()

	keepAlive := req.KeepAlive()
	err := s.handler.Handle(ctx, req, s.conn)
	elapsed := time.Since(start)

	s.metrics.requests.Add(ctx, 1)
	s.metrics.duration.Record(ctx, elapsed.Seconds())
	s.log.InfoContext(
		ctx,
		"processed request",
		slogfield.String("method", req.Method),
		slogfield.String("uri", req.URI),
		slogfield.Bool("keep_alive", keepAlive),
		slogfield.Duration("processing_time", elapsed),
	)

	if errors.Is(err, http1.ErrLengthMismatch) {
		s.log.ErrorContext(ctx, "response length did not match content length", slogfield.Error(err))
		return stateClosing, err
	}
	if err != nil {
		s.log.InfoContext(ctx, "failed to write response", slogfield.Error(err))
		return stateClosing, nil
	}
	if !keepAlive {
		return stateClosing, nil
	}
	return stateReading, nil
}

// close is safe to call more than once and from any goroutine.
func (s *session) close(ctx context.Context) {
	s.closeOnce.Do(func() {
		err := s.conn.Close()
		if err != nil {
			s.log.DebugContext(ctx, "failed to close connection", slogfield.Error(err))
		}
	})
}
