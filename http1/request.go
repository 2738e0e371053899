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
	"strings"
)

const (
	// MaxLineLength bounds the request line and every header line,
	// including the trailing CRLF.
	MaxLineLength = 8 << 10

	// MaxHeaderFields bounds the number of header lines in one request.
	MaxHeaderFields = 100

	// maxLeadingEmptyLines is how many stray CRLFs are tolerated before a
	// request line, e.g. left over from a previous request on the connection.
	maxLeadingEmptyLines = 2
)

var (
	ErrMalformedRequestLine = errors.New("http1: malformed request line")
	ErrMalformedHeader      = errors.New("http1: malformed header field")
	ErrLineTooLong          = errors.New("http1: line too long")
	ErrTooManyHeaders       = errors.New("http1: too many header fields")
	ErrMissingCRLF          = errors.New("http1: line not terminated by CRLF")
)

// ParseError is returned by [ReadRequest] when the peer sent bytes which
// are not a valid request. The connection can not be reused after it.
type ParseError struct {
	Line  string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse request: %s: %q", e.Cause, e.Line)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Field is a single header line.
type Field struct {
	Name  string
	Value string
}

// Header is an ordered list of header fields. Duplicate names are allowed.
type Header []Field

// Get returns the value of the first field whose name matches
// case-insensitively, or "" if there is none.
func (h Header) Get(name string) string {
	v, _ := h.Lookup(name)
	return v
}

// Lookup is like Get but also reports whether the field was present.
func (h Header) Lookup(name string) (string, bool) {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// Keys returns the field names in order. Duplicate names are reported once.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for i, f := range h {
		if h[:i].has(f.Name) {
			continue
		}
		keys = append(keys, f.Name)
	}
	return keys
}

func (h Header) has(name string) bool {
	_, ok := h.Lookup(name)
	return ok
}

// Add appends a field, keeping any existing fields with the same name.
func (h *Header) Add(name, value string) {
	*h = append(*h, Field{Name: name, Value: value})
}

// Set replaces the value of the first field with the given name and removes
// any later duplicates. If the name is absent the field is appended.
func (h *Header) Set(name, value string) {
	fields := (*h)[:0]
	found := false
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			fields = append(fields, f)
			continue
		}
		if found {
			continue
		}
		found = true
		fields = append(fields, Field{Name: f.Name, Value: value})
	}
	if !found {
		fields = append(fields, Field{Name: name, Value: value})
	}
	*h = fields
}

// Request is a parsed request line plus headers. It never has a body.
type Request struct {
	Method string

	// URI is the request target exactly as sent, not percent-decoded.
	URI string

	Proto  string
	Header Header
}

// KeepAlive reports whether the client explicitly asked for the connection
// to stay open. Only an explicit "Connection: keep-alive" counts; the
// HTTP/1.1 default of persistent connections is not assumed.
func (r *Request) KeepAlive() bool {
	return strings.EqualFold(r.Header.Get("Connection"), "keep-alive")
}

// ReadRequest reads a single request from br.
//
// It returns [io.EOF] if the reader is exhausted before the first byte of a
// request, [io.ErrUnexpectedEOF] if it is exhausted part way through, and a
// [*ParseError] for malformed input. Other errors come from the underlying
// reader, e.g. a read deadline expiring.
func ReadRequest(br *bufio.Reader) (*Request, error) {
	line, err := readRequestLine(br)
	if err != nil {
		return nil, err
	}

	req, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	for {
		line, err := readLine(br)
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, err
		}
		if line == "" {
			return req, nil
		}
		if len(req.Header) == MaxHeaderFields {
			return nil, &ParseError{Line: line, Cause: ErrTooManyHeaders}
		}

		f, err := parseField(line)
		if err != nil {
			return nil, err
		}
		req.Header = append(req.Header, f)
	}
}

func readRequestLine(br *bufio.Reader) (string, error) {
	for i := 0; ; i++ {
		line, err := readLine(br)
		if err != nil {
			if i > 0 && err == io.EOF {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		if line != "" {
			return line, nil
		}
		if i == maxLeadingEmptyLines {
			return "", &ParseError{Line: line, Cause: ErrMalformedRequestLine}
		}
	}
}

func parseRequestLine(line string) (*Request, error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return nil, &ParseError{Line: line, Cause: ErrMalformedRequestLine}
	}

	method, uri, proto := parts[0], parts[1], parts[2]
	if method == "" || uri == "" || !strings.HasPrefix(proto, "HTTP/") {
		return nil, &ParseError{Line: line, Cause: ErrMalformedRequestLine}
	}

	req := &Request{
		Method: method,
		URI:    uri,
		Proto:  proto,
	}
	return req, nil
}

func parseField(line string) (Field, error) {
	// obsolete line folding is rejected along with other malformed lines
	if line[0] == ' ' || line[0] == '\t' {
		return Field{}, &ParseError{Line: line, Cause: ErrMalformedHeader}
	}

	name, value, ok := strings.Cut(line, ":")
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return Field{}, &ParseError{Line: line, Cause: ErrMalformedHeader}
	}

	f := Field{
		Name:  name,
		Value: strings.Trim(value, " \t"),
	}
	return f, nil
}

// readLine returns a single CRLF terminated line without its terminator.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	for {
		frag, err := br.ReadSlice('\n')
		if len(buf)+len(frag) > MaxLineLength {
			return "", &ParseError{Line: truncate(buf, frag), Cause: ErrLineTooLong}
		}
		buf = append(buf, frag...)

		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(buf) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}

	n := len(buf)
	if n < 2 || buf[n-2] != '\r' {
		return "", &ParseError{Line: string(buf), Cause: ErrMissingCRLF}
	}
	return string(buf[:n-2]), nil
}

func truncate(buf, frag []byte) string {
	const keep = 64
	b := append(buf[:len(buf):len(buf)], frag...)
	if len(b) > keep {
		b = b[:keep]
	}
	return string(b)
}
