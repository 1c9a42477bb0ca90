// Package worker runs analysis jobs in a bounded number of slots.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Go after Close.
var ErrClosed = errors.New("worker pool closed")

// Task is one unit of work. ctx is canceled when the pool closes.
type Task func(ctx context.Context)

// Pool runs tasks with at most Size running at once. Tasks beyond that wait
// for a free slot in submission order of slot acquisition.
type Pool struct {
	size int64
	sem  *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool

	running atomic.Int64
	queued  atomic.Int64
}

// New creates a pool with size slots (minimum 1).
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		size:   int64(size),
		sem:    semaphore.NewWeighted(int64(size)),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Size is the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Running is the number of tasks holding a slot.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Queued is the number of tasks waiting for a slot.
func (p *Pool) Queued() int { return int(p.queued.Load()) }

// Go schedules task without blocking. If the pool closes before the task
// gets a slot, onDrop is called instead (it may be nil).
func (p *Pool) Go(task Task, onDrop func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.wg.Add(1)
	p.queued.Add(1)
	go func() {
		defer p.wg.Done()
		err := p.sem.Acquire(p.ctx, 1)
		p.queued.Add(-1)
		if err == nil && p.ctx.Err() != nil {
			p.sem.Release(1)
			err = p.ctx.Err()
		}
		if err != nil {
			if onDrop != nil {
				onDrop(err)
			}
			return
		}
		p.running.Add(1)
		defer func() {
			p.running.Add(-1)
			p.sem.Release(1)
		}()
		task(p.ctx)
	}()
	return nil
}

// Wait blocks until every scheduled task has finished or been dropped.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks, cancels the context handed to running tasks,
// drops queued ones and waits for everything to return.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
}
