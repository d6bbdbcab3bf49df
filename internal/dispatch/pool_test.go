package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// TestPoolRunsTasks verifies submitted tasks execute.
func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, 8)
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit("count", func() { ran.Add(1) }); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if ran.Load() != 5 {
		t.Fatalf("ran = %d, want 5", ran.Load())
	}
	if p.Stats().Completed != 5 {
		t.Fatalf("completed = %d", p.Stats().Completed)
	}
}

// TestPoolSubmitNeverBlocks verifies ErrQueueFull when workers are busy.
func TestPoolSubmitNeverBlocks(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	if err := p.Submit("block", func() { close(started); <-release }); err != nil {
		t.Fatalf("Submit(block) error = %v", err)
	}
	<-started
	if err := p.Submit("queued", func() {}); err != nil {
		t.Fatalf("Submit(queued) error = %v", err)
	}

	begin := time.Now()
	err := p.Submit("overflow", func() {})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit(overflow) error = %v, want ErrQueueFull", err)
	}
	if time.Since(begin) > 100*time.Millisecond {
		t.Fatal("Submit blocked on a full queue")
	}

	close(release)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if p.Stats().Rejected != 1 {
		t.Fatalf("rejected = %d, want 1", p.Stats().Rejected)
	}
}

// TestPoolContainsPanics verifies a panicking task does not kill its worker.
func TestPoolContainsPanics(t *testing.T) {
	p := NewPool(1, 4)
	var after atomic.Bool

	_ = p.Submit("panic", func() { panic("task exploded") })
	_ = p.Submit("after", func() { after.Store(true) })

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !after.Load() {
		t.Fatal("task after a panic did not run")
	}
	if p.Stats().Panicked != 1 {
		t.Fatalf("panicked = %d, want 1", p.Stats().Panicked)
	}
}

// TestPoolRejectsAfterShutdown verifies ErrPoolClosed and idempotent shutdown.
func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := NewPool(1, 1)
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err := p.Submit("late", func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("Submit() error = %v, want ErrPoolClosed", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown() error = %v", err)
	}
}

// TestPoolShutdownHonoursDeadline verifies Shutdown returns when ctx expires.
func TestPoolShutdownHonoursDeadline(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	defer close(release)
	_ = p.Submit("stuck", func() { <-release })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want DeadlineExceeded", err)
	}
}
