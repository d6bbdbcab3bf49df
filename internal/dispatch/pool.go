// Package dispatch runs short tasks off the input hook goroutine on a fixed
// set of workers.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrQueueFull is returned by Submit when every queue slot is taken.
	ErrQueueFull = errors.New("dispatch queue full")
	// ErrPoolClosed is returned by Submit after Shutdown.
	ErrPoolClosed = errors.New("dispatch pool closed")
)

type task struct {
	name string
	fn   func()
}

// Stats is a point-in-time view of pool activity.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Panicked  int64 `json:"panicked"`
	Rejected  int64 `json:"rejected"`
}

// Pool is a bounded queue drained by long-lived workers.
type Pool struct {
	queue   chan task
	workers int
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	completed atomic.Int64
	panicked  atomic.Int64
	rejected  atomic.Int64
}

// NewPool starts workers goroutines reading a queue of queueSize slots.
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}

	p := &Pool{queue: make(chan task, queueSize), workers: workers}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.work()
	}
	return p
}

// Submit enqueues fn without blocking.
func (p *Pool) Submit(name string, fn func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task{name: name, fn: fn}:
		return nil
	default:
		p.rejected.Add(1)
		slog.Warn("dispatch queue full, dropping task", "task", name)
		return ErrQueueFull
	}
}

// Shutdown stops intake, lets workers drain the queue and waits for them.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
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
		return ctx.Err()
	}
}

// Stats reports counters and current queue depth.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Queued:    len(p.queue),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
		Rejected:  p.rejected.Load(),
	}
}

func (p *Pool) work() {
	defer p.wg.Done()
	for t := range p.queue {
		p.runTask(t)
	}
}

func (p *Pool) runTask(t task) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			slog.Error("dispatch task panicked", "task", t.name, "panic", r)
		}
	}()
	t.fn()
	p.completed.Add(1)
}
