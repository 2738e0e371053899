// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server implements the connection admission and lifecycle engine.
//
// A single goroutine accepts connections and offers each one to a bounded
// worker pool. There is no queue: if every worker is busy the connection is
// answered with 503 Service Unavailable on the accepting goroutine and
// closed. An admitted connection is owned by one worker for its whole
// lifetime, which reads requests one at a time, hands them to a [Handler]
// and either waits for the next request or closes the connection.
//
// A connection is only kept open if the client sent "Connection: keep-alive".
// While waiting for a request the connection is closed after the configured
// idle timeout without writing a response.
package server
