// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/staticd/http1"
	"github.com/z5labs/staticd/internal/slogfield"
	"github.com/z5labs/staticd/internal/try"
)

// BusyResponder answers connections which could not be admitted.
// It runs on the accepting goroutine so it never reads from the
// connection and bounds its write with a deadline.
type BusyResponder struct {
	writeTimeout time.Duration
	log          *slog.Logger
	now          func() time.Time
}

// NewBusyResponder returns a BusyResponder whose writes give up after
// writeTimeout.
func NewBusyResponder(writeTimeout time.Duration, log *slog.Logger) *BusyResponder {
	return &BusyResponder{
		writeTimeout: writeTimeout,
		log:          log,
		now:          time.Now,
	}
}

type closeWriter interface {
	CloseWrite() error
}

// Respond writes a 503 with "Connection: close" and closes conn. The
// connection is always closed, even when writing fails.
func (b *BusyResponder) Respond(ctx context.Context, conn net.Conn) (err error) {
	defer try.Close(&err, conn)

	b.log.InfoContext(ctx, "all workers busy, rejecting connection", slogfield.RemoteAddr(conn.RemoteAddr()))

	now := b.now()
	err = conn.SetWriteDeadline(now.Add(b.writeTimeout))
	if err != nil {
		return err
	}

	resp := http1.NewResponse(http1.StatusServiceUnavailable)
	resp.Header.Set("Date", http1.FormatDate(now))
	resp.Header.Set("Connection", "close")

	_, err = resp.WriteTo(conn)
	if err != nil {
		return err
	}

	if cw, ok := conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}
