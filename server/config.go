// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

const (
	DefaultPort             = 8080
	DefaultMaxWorkers       = 1024
	DefaultRoot             = "./"
	DefaultIdleTimeout      = 15000 * time.Millisecond
	DefaultBusyWriteTimeout = time.Second

	// DefaultMinReadyWorkers is capped by the maximum worker count.
	DefaultMinReadyWorkers = 10
)

// Config is the immutable server configuration. It is created once at
// startup and passed by value.
type Config struct {
	// Host is the interface to bind. Empty means all interfaces.
	Host string `config:"host"`

	// Port to listen on. Zero picks an ephemeral port.
	Port int `config:"port"`

	// MaxWorkers bounds the number of concurrently served connections.
	MaxWorkers int `config:"max_workers"`

	// MinReadyWorkers are started up front and never reaped.
	MinReadyWorkers int `config:"min_ready_workers"`

	// Root is the folder resources are served from.
	Root string `config:"root"`

	// IdleTimeout bounds the wait for the next request on a connection.
	IdleTimeout time.Duration `config:"idle_timeout"`

	// BusyWriteTimeout bounds writing a 503 to a rejected connection.
	BusyWriteTimeout time.Duration `config:"busy_write_timeout"`
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		MaxWorkers:       DefaultMaxWorkers,
		MinReadyWorkers:  min(DefaultMinReadyWorkers, DefaultMaxWorkers),
		Root:             DefaultRoot,
		IdleTimeout:      DefaultIdleTimeout,
		BusyWriteTimeout: DefaultBusyWriteTimeout,
	}
}

// Addr returns the host:port to bind.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// InvalidConfigError reports a configuration value the server can not run with.
type InvalidConfigError struct {
	Field string
	Cause error
}

// Error implements the [builtin.error] interface.
func (e InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e InvalidConfigError) Unwrap() error {
	return e.Cause
}

var (
	errNotPositive = errors.New("must be greater than zero")
	errNegative    = errors.New("must not be negative")
	errPortRange   = errors.New("must be between 0 and 65535")
)

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return InvalidConfigError{Field: "port", Cause: errPortRange}
	case c.MaxWorkers <= 0:
		return InvalidConfigError{Field: "max workers", Cause: errNotPositive}
	case c.MinReadyWorkers < 0:
		return InvalidConfigError{Field: "min ready workers", Cause: errNegative}
	case c.IdleTimeout <= 0:
		return InvalidConfigError{Field: "idle timeout", Cause: errNotPositive}
	case c.BusyWriteTimeout <= 0:
		return InvalidConfigError{Field: "busy write timeout", Cause: errNotPositive}
	}
	return nil
}
