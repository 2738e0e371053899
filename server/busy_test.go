// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/z5labs/staticd/internal/try"

	"github.com/stretchr/testify/require"
)

func TestBusyResponder_Respond(t *testing.T) {
	t.Run("will write a 503 and close the connection", func(t *testing.T) {
		client, srv := net.Pipe()
		defer client.Close()

		b := NewBusyResponder(time.Second, discardLogger())
		b.now = func() time.Time {
			return time.Date(2024, time.March, 5, 8, 4, 5, 0, time.UTC)
		}

		read := make(chan []byte, 1)
		go func() {
			out, _ := io.ReadAll(client)
			read <- out
		}()

		err := b.Respond(context.Background(), srv)
		require.NoError(t, err)

		expect := "HTTP/1.1 503 Service Unavailable\r\n" +
			"Date: Tue, 05 Mar 2024 08:04:05 GMT\r\n" +
			"Connection: close\r\n" +
			"Content-Length: 0\r\n" +
			"\r\n"
		require.Equal(t, expect, string(<-read))
	})

	t.Run("will give up when the client does not read", func(t *testing.T) {
		client, srv := net.Pipe()
		defer client.Close()

		b := NewBusyResponder(20*time.Millisecond, discardLogger())

		err := b.Respond(context.Background(), srv)
		require.Error(t, err)

		var nerr net.Error
		require.True(t, errors.As(err, &nerr))
		require.True(t, nerr.Timeout())

		_, err = srv.Write([]byte("x"))
		require.ErrorIs(t, err, io.ErrClosedPipe)
	})

	t.Run("will report close failures", func(t *testing.T) {
		client, srv := net.Pipe()
		defer client.Close()

		conn := &failingCloseConn{Conn: srv}
		go io.Copy(io.Discard, client)

		b := NewBusyResponder(time.Second, discardLogger())
		err := b.Respond(context.Background(), conn)

		var cerr try.CloseError
		require.ErrorAs(t, err, &cerr)
	})
}

type failingCloseConn struct {
	net.Conn
}

func (c *failingCloseConn) Close() error {
	c.Conn.Close()
	return errors.New("close failed")
}
