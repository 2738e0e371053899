// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package workerpool provides a bounded goroutine pool with direct handoff.
//
// A submitted task either starts running on a worker immediately or is
// rejected with [ErrSaturated]. There is no queue, so saturation is visible
// to the caller at the moment it happens instead of accumulating as backlog.
package workerpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/z5labs/staticd/internal/slogfield"
	"github.com/z5labs/staticd/internal/try"
)

var (
	// ErrSaturated is returned by [Pool.TrySubmit] when every worker is busy
	// and the pool is already at its maximum size.
	ErrSaturated = errors.New("workerpool: all workers are busy")

	// ErrClosed is returned by [Pool.TrySubmit] after [Pool.ShutdownNow].
	ErrClosed = errors.New("workerpool: pool has been shut down")

	errNilTask = errors.New("workerpool: nil task")
)

// Task is a unit of work executed by a worker. The context is cancelled
// when the pool is shut down.
type Task func(context.Context) error

// Option configures a [Pool].
type Option func(*Pool)

// MinReady sets how many workers are started up front and kept alive while
// idle. It is capped at the pool maximum.
func MinReady(n int) Option {
	return func(p *Pool) {
		p.minReady = n
	}
}

// IdleTimeout sets how long a worker above the MinReady count may wait for
// a handoff before it exits. The default is 1 second.
func IdleTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.idleTimeout = d
	}
}

// Logger sets the logger used to report failed tasks.
func Logger(log *slog.Logger) Option {
	return func(p *Pool) {
		p.log = log
	}
}

// Pool is a bounded set of worker goroutines.
type Pool struct {
	max         int
	minReady    int
	idleTimeout time.Duration
	log         *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	handoff chan Task

	mu      sync.Mutex
	workers int
	busy    int
	closed  bool

	wg sync.WaitGroup
}

// New returns a Pool which never runs more than size tasks concurrently.
func New(size int, opts ...Option) *Pool {
	p := &Pool{
		max:         max(size, 1),
		idleTimeout: time.Second,
		log:         slog.Default(),
		handoff:     make(chan Task),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.minReady = min(max(p.minReady, 0), p.max)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < p.minReady; i++ {
		p.spawn(nil)
	}
	return p
}

// TrySubmit starts task immediately if fewer than the maximum number of
// tasks are running, handing it to an idle worker when one is waiting and
// starting a new worker otherwise. When the pool is saturated it returns
// [ErrSaturated] without retaining task.
func (p *Pool) TrySubmit(task Task) error {
	if task == nil {
		return errNilTask
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.busy >= p.max {
		return ErrSaturated
	}
	p.busy++

	select {
	case p.handoff <- task:
	default:
		p.spawn(task)
	}
	return nil
}

// ShutdownNow cancels the context of every running task and stops idle
// workers. It does not wait for tasks to return.
func (p *Pool) ShutdownNow() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
}

// Wait blocks until every worker has exited. It only returns after
// [Pool.ShutdownNow] has been called.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size reports the number of live workers, busy or idle.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Busy reports the number of tasks admitted and not yet finished.
func (p *Pool) Busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.busy
}

// spawn must be called with p.mu held.
func (p *Pool) spawn(task Task) {
	p.workers++
	p.wg.Add(1)
	go p.work(task)
}

func (p *Pool) work(task Task) {
	defer p.wg.Done()

	for {
		if task != nil {
			p.run(task)
			task = nil
		}

		idle := time.NewTimer(p.idleTimeout)
		select {
		case <-p.ctx.Done():
			idle.Stop()
			p.retire(true)
			return
		case task = <-p.handoff:
			idle.Stop()
		case <-idle.C:
			if p.retire(false) {
				return
			}
		}
	}
}

// retire reports whether the calling worker may exit. Workers within the
// MinReady count only exit on shutdown.
func (p *Pool) retire(shutdown bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !shutdown && p.workers <= p.minReady {
		return false
	}
	p.workers--
	return true
}

func (p *Pool) run(task Task) {
	defer func() {
		p.mu.Lock()
		p.busy--
		p.mu.Unlock()
	}()

	err := call(p.ctx, task)
	if err == nil {
		return
	}
	p.log.ErrorContext(p.ctx, "worker task failed", slogfield.Error(err))
}

func call(ctx context.Context, task Task) (err error) {
	// Must be deferred directly for recover() to work
	defer try.Recover(&err)

	return task(ctx)
}
