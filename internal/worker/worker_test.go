package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolLimitsConcurrency(t *testing.T) {
	p := New(2)
	defer p.Close()

	var current, peak atomic.Int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		err := p.Go(func(ctx context.Context) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		}, nil)
		if err != nil {
			t.Fatalf("Go failed: %v", err)
		}
	}

	// Wait until both slots are busy.
	deadline := time.Now().Add(2 * time.Second)
	for p.Running() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Expected 2 running tasks, got %d", p.Running())
		}
		time.Sleep(time.Millisecond)
	}
	if q := p.Queued(); q != 4 {
		t.Errorf("Expected 4 queued tasks, got %d", q)
	}

	close(release)
	p.Wait()

	if got := peak.Load(); got != 2 {
		t.Errorf("Expected peak concurrency 2, got %d", got)
	}
	if p.Running() != 0 || p.Queued() != 0 {
		t.Errorf("Expected idle pool, got running=%d queued=%d", p.Running(), p.Queued())
	}
}

func TestPoolCloseDropsQueued(t *testing.T) {
	p := New(1)

	started := make(chan struct{})
	var canceled atomic.Bool
	if err := p.Go(func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		canceled.Store(true)
	}, nil); err != nil {
		t.Fatalf("Go failed: %v", err)
	}
	<-started

	var mu sync.Mutex
	var dropped []error
	ran := false
	if err := p.Go(func(ctx context.Context) { ran = true }, func(err error) {
		mu.Lock()
		dropped = append(dropped, err)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Go failed: %v", err)
	}

	p.Close()

	if !canceled.Load() {
		t.Error("Expected running task to observe cancellation")
	}
	if ran {
		t.Error("Queued task should not run after Close")
	}
	if len(dropped) != 1 {
		t.Fatalf("Expected 1 dropped task, got %d", len(dropped))
	}
	if err := p.Go(func(context.Context) {}, nil); err != ErrClosed {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	p.Close() // idempotent
}

func TestNewClampsSize(t *testing.T) {
	if got := New(0).Size(); got != 1 {
		t.Errorf("Expected size 1, got %d", got)
	}
}
