// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http1 implements the minimal HTTP/1.1 message framing used by staticd.
//
// The package deliberately supports a narrow slice of the protocol: body-less
// requests (GET semantics) and responses whose body length is always known
// before the first byte is written. There is no chunked transfer encoding, no
// request body handling and no pipelining.
//
// # Parsing
//
// [ReadRequest] reads one request line and its header section from a
// [bufio.Reader]. The reader should live as long as the connection so bytes
// buffered past the end of one request are not lost before the next read:
//
//	br := bufio.NewReader(conn)
//	for {
//	    req, err := http1.ReadRequest(br)
//	    if err != nil {
//	        // io.EOF: the peer closed the connection between requests
//	        // *http1.ParseError: malformed input, close the connection
//	        return err
//	    }
//	    ...
//	}
//
// Header order and duplicate header names are preserved. Lookups through
// [Header.Get] are case-insensitive and return the first occurrence.
//
// # Serialization
//
// [Response.WriteTo] writes the status line, the headers in insertion order,
// an empty line and then exactly [Entity.Len] bytes from the response entity.
// Content-Length is always derived from the entity (or set to "0" when there
// is none) immediately before serialization, so the declared length and the
// written length can not disagree unless the entity itself lies about its
// size, which is reported as [ErrLengthMismatch].
//
// Entities stream their content; a [FileEntity] opens its file only when it is
// written and copies it to the connection without reading it fully into memory.
package http1
