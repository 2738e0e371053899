// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"
)

// ErrValueNotSet is returned by [Read] when the reader produced no value.
var ErrValueNotSet = errors.New("config: value not set")

// Value is a configuration value which may not be set.
type Value[T any] struct {
	v   T
	set bool
}

// ValueOf returns a set Value.
func ValueOf[T any](v T) Value[T] {
	return Value[T]{v: v, set: true}
}

// Value returns the underlying value and whether it was set.
func (v Value[T]) Value() (T, bool) {
	return v.v, v.set
}

// Reader is a source of a single configuration value.
type Reader[T any] interface {
	Read(context.Context) (Value[T], error)
}

// ReaderFunc is an adapter to allow the use of ordinary functions as Readers.
type ReaderFunc[T any] func(context.Context) (Value[T], error)

// Read implements the [Reader] interface.
func (f ReaderFunc[T]) Read(ctx context.Context) (Value[T], error) {
	return f(ctx)
}

// ReaderOf returns a Reader which always returns v.
func ReaderOf[T any](v T) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		return ValueOf(v), nil
	})
}

// PtrOf returns a Reader which is set only when p is non-nil.
func PtrOf[T any](p *T) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		if p == nil {
			return Value[T]{}, nil
		}
		return ValueOf(*p), nil
	})
}

// Read returns the value of r or [ErrValueNotSet].
func Read[T any](ctx context.Context, r Reader[T]) (T, error) {
	val, err := r.Read(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	v, ok := val.Value()
	if !ok {
		var zero T
		return zero, ErrValueNotSet
	}
	return v, nil
}

// Must is like [Read] but panics on any error.
func Must[T any](ctx context.Context, r Reader[T]) T {
	v, err := Read(ctx, r)
	if err != nil {
		panic(err)
	}
	return v
}

// MustOr returns def if r is nil or not set, and panics if r fails.
func MustOr[T any](ctx context.Context, def T, r Reader[T]) T {
	if r == nil {
		return def
	}
	return Must(ctx, Default(def, r))
}

// Default returns def whenever r is not set.
func Default[T any](def T, r Reader[T]) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[T]{}, err
		}
		if _, ok := val.Value(); ok {
			return val, nil
		}
		return ValueOf(def), nil
	})
}

// Or returns the first set value from rs, in order.
// Errors are returned immediately.
func Or[T any](rs ...Reader[T]) Reader[T] {
	return ReaderFunc[T](func(ctx context.Context) (Value[T], error) {
		for _, r := range rs {
			val, err := r.Read(ctx)
			if err != nil {
				return Value[T]{}, err
			}
			if _, ok := val.Value(); ok {
				return val, nil
			}
		}
		return Value[T]{}, nil
	})
}

// Map transforms the value of r when it is set.
func Map[T, U any](r Reader[T], f func(context.Context, T) (U, error)) Reader[U] {
	return ReaderFunc[U](func(ctx context.Context) (Value[U], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[U]{}, err
		}
		v, ok := val.Value()
		if !ok {
			return Value[U]{}, nil
		}
		u, err := f(ctx, v)
		if err != nil {
			return Value[U]{}, err
		}
		return ValueOf(u), nil
	})
}

// Bind uses the value of r to choose the next Reader.
func Bind[T, U any](r Reader[T], f func(context.Context, T) Reader[U]) Reader[U] {
	return ReaderFunc[U](func(ctx context.Context) (Value[U], error) {
		val, err := r.Read(ctx)
		if err != nil {
			return Value[U]{}, err
		}
		v, ok := val.Value()
		if !ok {
			return Value[U]{}, nil
		}
		return f(ctx, v).Read(ctx)
	})
}

// Env reads an environment variable. Empty variables are treated as not set.
func Env(name string) Reader[string] {
	return ReaderFunc[string](func(ctx context.Context) (Value[string], error) {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return Value[string]{}, nil
		}
		return ValueOf(v), nil
	})
}

// BoolFromString parses the value of r with [strconv.ParseBool].
func BoolFromString(r Reader[string]) Reader[bool] {
	return Map(r, func(ctx context.Context, s string) (bool, error) {
		return strconv.ParseBool(s)
	})
}

// IntFromString parses the value of r with [strconv.Atoi].
func IntFromString(r Reader[string]) Reader[int] {
	return Map(r, func(ctx context.Context, s string) (int, error) {
		return strconv.Atoi(s)
	})
}

// Float64FromString parses the value of r with [strconv.ParseFloat].
func Float64FromString(r Reader[string]) Reader[float64] {
	return Map(r, func(ctx context.Context, s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationFromString parses the value of r with [time.ParseDuration].
// A plain integer is a number of milliseconds.
func DurationFromString(r Reader[string]) Reader[time.Duration] {
	return Map(r, func(ctx context.Context, s string) (time.Duration, error) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		return time.ParseDuration(s)
	})
}

// ReadFile opens the file at path. A missing file is not set; any other
// failure is an error. The caller must close the returned file.
func ReadFile(path string) Reader[*os.File] {
	return ReaderFunc[*os.File](func(ctx context.Context) (Value[*os.File], error) {
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			return Value[*os.File]{}, nil
		}
		if err != nil {
			return Value[*os.File]{}, err
		}
		return ValueOf(f), nil
	})
}
