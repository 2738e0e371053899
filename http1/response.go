// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package http1

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	StatusOK                 = 200
	StatusBadRequest         = 400
	StatusNotFound           = 404
	StatusInternalError      = 500
	StatusServiceUnavailable = 503
)

var statusText = map[int]string{
	StatusOK:                 "OK",
	StatusBadRequest:         "Bad Request",
	StatusNotFound:           "Not Found",
	StatusInternalError:      "Internal Server Error",
	StatusServiceUnavailable: "Service Unavailable",
}

// StatusText returns the reason phrase for the status codes staticd
// produces, or "" for any other code.
func StatusText(code int) string {
	return statusText[code]
}

// TimeFormat is the RFC 1123 layout used by the Date header. Times must be
// in UTC when formatted with it; use [FormatDate].
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

// FormatDate formats t for use in a Date header.
func FormatDate(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

const writeBufferSize = 8 << 10

// ErrLengthMismatch means an entity wrote a different number of bytes than
// it declared. The response on the wire is corrupt and the connection must
// not be reused.
var ErrLengthMismatch = errors.New("http1: entity length mismatch")

// LengthMismatchError records the declared and written entity sizes.
type LengthMismatchError struct {
	Declared int64
	Written  int64
}

// Error implements the [builtin.error] interface.
func (e LengthMismatchError) Error() string {
	return fmt.Sprintf("entity declared %d bytes but wrote %d", e.Declared, e.Written)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e LengthMismatchError) Unwrap() error {
	return ErrLengthMismatch
}

// Response is a status line, ordered headers and an optional entity.
type Response struct {
	StatusCode int
	Reason     string
	Header     Header
	Entity     Entity
}

// NewResponse returns a Response with the standard reason phrase for code.
func NewResponse(code int) *Response {
	return &Response{
		StatusCode: code,
		Reason:     StatusText(code),
	}
}

// WriteTo implements the [io.WriterTo] interface. It sets Content-Length
// from the entity and then streams the whole message to w.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	size := int64(0)
	if r.Entity != nil {
		size = r.Entity.Len()
	}
	r.Header.Set("Content-Length", strconv.FormatInt(size, 10))

	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, writeBufferSize)

	err := r.writeHead(bw)
	if err != nil {
		return cw.n, err
	}

	if r.Entity != nil {
		n, err := r.Entity.WriteTo(bw)
		if err != nil {
			return cw.n, err
		}
		if n != size {
			return cw.n, LengthMismatchError{Declared: size, Written: n}
		}
	}

	err = bw.Flush()
	return cw.n, err
}

func (r *Response) writeHead(bw *bufio.Writer) error {
	reason := r.Reason
	if reason == "" {
		reason = StatusText(r.StatusCode)
	}

	_, err := fmt.Fprintf(bw, "HTTP/1.1 %03d %s\r\n", r.StatusCode, reason)
	if err != nil {
		return err
	}
	for _, f := range r.Header {
		_, err = fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value)
		if err != nil {
			return err
		}
	}
	_, err = bw.WriteString("\r\n")
	return err
}

// countingWriter tracks bytes handed to the connection. ReadFrom is passed
// through so file copies can still use sendfile on TCP connections.
type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriter) ReadFrom(r io.Reader) (int64, error) {
	rf, ok := c.w.(io.ReaderFrom)
	if !ok {
		n, err := io.Copy(struct{ io.Writer }{c.w}, r)
		c.n += n
		return n, err
	}
	n, err := rf.ReadFrom(r)
	c.n += n
	return n, err
}
