// Package workerpool provides a small bounded pool for operations that block
// for long stretches (captcha recognition, browser-driven order runs). Work is
// submitted explicitly and awaited through a task handle; the pool never
// spawns an unbounded goroutine per call.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("workerpool: pool is closed")

// Task is the future-style handle for one submitted unit of work.
type Task struct {
	done chan struct{}
	err  error
}

// Wait blocks until the work finishes or ctx expires, returning the work's
// error. Waiting is cooperative; it holds no pool resources.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pool executes submitted functions with bounded concurrency.
type Pool struct {
	sem    *semaphore.Weighted
	logger *zap.Logger

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// New creates a pool allowing at most size concurrent tasks.
func New(size int, logger *zap.Logger) (*Pool, error) {
	if size < 1 {
		return nil, fmt.Errorf("workerpool: size must be positive, got %d", size)
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger.Named("workerpool"),
	}, nil
}

// Submit schedules fn for execution once a slot frees up. The returned task
// resolves with fn's error, or with a wrapped panic if fn panics; a panicking
// task must never take the pool down with it.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) (*Task, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		p.wg.Done()
		return nil, fmt.Errorf("workerpool: acquiring slot: %w", err)
	}

	task := &Task{done: make(chan struct{})}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				task.err = fmt.Errorf("workerpool: task panicked: %v", r)
				p.logger.Error("Recovered panicking task.", zap.Any("panic", r))
			}
			p.sem.Release(1)
			p.wg.Done()
			close(task.done)
		}()
		task.err = fn(ctx)
	}()
	return task, nil
}

// Shutdown refuses new submissions and waits for in-flight tasks to drain, or
// for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workerpool: shutdown wait: %w", ctx.Err())
	}
}
