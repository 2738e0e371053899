// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package staticd

import (
	"context"
	"os"
	"os/signal"

	"github.com/z5labs/staticd/internal/try"
)

// Builder constructs a T.
type Builder[T any] interface {
	Build(context.Context) (T, error)
}

// BuilderFunc is an adapter to allow the use of ordinary functions as Builders.
type BuilderFunc[T any] func(context.Context) (T, error)

// Build implements the [Builder] interface.
func (f BuilderFunc[T]) Build(ctx context.Context) (T, error) {
	return f(ctx)
}

// BuilderOf returns a Builder which always returns v.
func BuilderOf[T any](v T) Builder[T] {
	return BuilderFunc[T](func(ctx context.Context) (T, error) {
		return v, nil
	})
}

// Map transforms the output of b with f. f is not called if b fails.
func Map[T, U any](b Builder[T], f func(context.Context, T) (U, error)) Builder[U] {
	return BuilderFunc[U](func(ctx context.Context) (U, error) {
		t, err := b.Build(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return f(ctx, t)
	})
}

// Bind uses the output of b to choose the next Builder.
func Bind[T, U any](b Builder[T], f func(T) Builder[U]) Builder[U] {
	return BuilderFunc[U](func(ctx context.Context) (U, error) {
		t, err := b.Build(ctx)
		if err != nil {
			var zero U
			return zero, err
		}
		return f(t).Build(ctx)
	})
}

// MustBuild is like Build but panics if b fails.
func MustBuild[T any](ctx context.Context, b Builder[T]) T {
	v, err := b.Build(ctx)
	if err != nil {
		panic(err)
	}
	return v
}

// Runtime is a long running process which blocks until ctx is done
// or it fails.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc is an adapter to allow the use of ordinary functions as Runtimes.
type RuntimeFunc func(context.Context) error

// Run implements the [Runtime] interface.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Runner builds a T and runs it.
type Runner[T any] interface {
	Run(context.Context, Builder[T]) error
}

// RunnerFunc is an adapter to allow the use of ordinary functions as Runners.
type RunnerFunc[T any] func(context.Context, Builder[T]) error

// Run implements the [Runner] interface.
func (f RunnerFunc[T]) Run(ctx context.Context, b Builder[T]) error {
	return f(ctx, b)
}

// DefaultRunner builds the [Runtime] with the given context and then
// runs it with the same context.
func DefaultRunner[T Runtime]() Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) error {
		rt, err := b.Build(ctx)
		if err != nil {
			return err
		}
		return rt.Run(ctx)
	})
}

// NotifyOnSignal cancels the context given to r when any of sigs is received.
func NotifyOnSignal[T any](r Runner[T], sigs ...os.Signal) Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) error {
		sigCtx, stop := signal.NotifyContext(ctx, sigs...)
		defer stop()

		return r.Run(sigCtx, b)
	})
}

// RecoverPanics converts a panic raised while building or running into
// a [try.PanicError].
func RecoverPanics[T any](r Runner[T]) Runner[T] {
	return RunnerFunc[T](func(ctx context.Context, b Builder[T]) (err error) {
		defer try.Recover(&err)

		return r.Run(ctx, b)
	})
}
