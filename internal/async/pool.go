// Package async runs CPU-bound work on a fixed set of goroutines so callers
// can bound concurrency independently of how many requests are in flight.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrPoolClosed = errors.New("worker pool is shutting down")

// Task is one unit of work. It must honour ctx.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	name string
	fn   Task
	done chan error
}

// WorkerPool executes submitted tasks on a fixed number of workers.
type WorkerPool struct {
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*WorkerPool)

func WithWorkers(n int) Option {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *WorkerPool) {
		if n >= 0 {
			p.ch = make(chan job, n)
		}
	}
}

// WithTaskTimeout bounds each task's run time.
func WithTaskTimeout(d time.Duration) Option {
	return func(p *WorkerPool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func NewWorkerPool(logger *slog.Logger, opts ...Option) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &WorkerPool{
		logger:  logger,
		workers: 4,
		timeout: 2 * time.Minute,
		ch:      make(chan job, 64),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *WorkerPool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker started", "worker_id", workerID)
				for j := range p.ch {
					j.done <- p.run(workerID, j)
				}
				p.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *WorkerPool) run(workerID int, j job) (err error) {
	if err := j.ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(j.ctx, p.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", "worker_id", workerID, "task", j.name, "panic", r)
			err = fmt.Errorf("task %s panicked: %v", j.name, r)
		}
	}()

	start := time.Now()
	err = j.fn(ctx)
	if err != nil {
		p.logger.Debug("task failed", "worker_id", workerID, "task", j.name, "error", err,
			"duration_ms", time.Since(start).Milliseconds())
	}
	return err
}

// Submit queues fn and blocks until it finishes or ctx is done. A task whose
// ctx is already done when a worker picks it up is not run.
func (p *WorkerPool) Submit(ctx context.Context, name string, fn Task) error {
	j := job{ctx: ctx, name: name, fn: fn, done: make(chan error, 1)}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	select {
	case p.ch <- j:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on p and returns its result.
func Do[T any](ctx context.Context, p *WorkerPool, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := p.Submit(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Shutdown stops accepting tasks and waits for queued ones to drain or ctx
// to expire.
func (p *WorkerPool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("worker pool drained")
	}
}
