// Package workers runs blocking jobs on a fixed set of goroutines with a bounded queue.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

var (
	// ErrSaturated is returned when every worker is busy and the queue is full.
	ErrSaturated = errors.New("worker pool is saturated")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("worker pool is closed")
)

// Job is a unit of work. It receives the submitter's context.
type Job func(ctx context.Context) error

type task struct {
	ctx  context.Context
	job  Job
	done chan error
}

// Pool dispatches jobs to a fixed number of workers.
type Pool struct {
	logger  *zap.Logger
	workers int

	ch   chan task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool

	busy atomic.Int64
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithQueueSize sets how many jobs may wait for a free worker before Do rejects new ones.
func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n >= 0 {
			p.ch = make(chan task, n)
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		logger:  logger,
		workers: 4,
		ch:      make(chan task, 16),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				for t := range p.ch {
					t.done <- p.run(workerID, t)
				}
			}(i + 1)
		}
	})
}

func (p *Pool) run(workerID int, t task) (err error) {
	if ctxErr := t.ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	p.busy.Add(1)
	defer p.busy.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Int("worker_id", workerID), zap.Any("panic", r))
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return t.job(t.ctx)
}

// Submit queues job without waiting for it. The returned channel yields the job's result
// exactly once, after the job has returned. Submit never blocks on a full queue: it returns ErrSaturated.
func (p *Pool) Submit(ctx context.Context, job Job) (<-chan error, error) {
	t := task{ctx: ctx, job: job, done: make(chan error, 1)}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	select {
	case p.ch <- t:
		return t.done, nil
	default:
		p.logger.Warn("worker pool saturated, rejecting job",
			zap.Int("workers", p.workers),
			zap.Int("queue_size", cap(p.ch)),
		)
		return nil, ErrSaturated
	}
}

// Do queues job and waits for its result.
// When ctx ends first, Do returns ctx.Err() while the job keeps its worker until it observes ctx.
// Callers that must not overlap with the job use Submit and wait on the channel instead.
func (p *Pool) Do(ctx context.Context, job Job) error {
	done, err := p.Submit(ctx, job)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy returns the number of jobs currently executing.
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

// Queued returns the number of jobs waiting for a worker.
func (p *Pool) Queued() int {
	return len(p.ch)
}

// Shutdown stops accepting jobs and waits for queued ones to finish or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) {
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
