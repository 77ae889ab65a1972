// Package workerpool provides fixed-size FIFO task pools.
//
// A pool with a single worker doubles as a serialization primitive: tasks
// run one at a time in submission order, so state touched only from pool
// tasks needs no further locking.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"configcenter/internal/logging"
)

var ErrClosed = errors.New("worker pool is shut down")

type Options struct {
	Name   string
	Size   int
	Logger *logging.Logger
	// PanicHandler is called with the recovered value when a task panics.
	PanicHandler func(recovered any)
}

// Pool runs submitted tasks on a fixed number of goroutines. The backlog is
// unbounded so Submit never blocks the caller.
type Pool struct {
	name         string
	size         int
	logger       *logging.Logger
	panicHandler func(any)

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []func()
	shutdown bool

	workers   sync.WaitGroup
	active    atomic.Int64
	completed atomic.Uint64
	panics    atomic.Uint64
}

func New(options Options) *Pool {
	size := options.Size
	if size <= 0 {
		size = 1
	}
	name := options.Name
	if name == "" {
		name = "workers"
	}
	pool := &Pool{
		name:         name,
		size:         size,
		logger:       options.Logger,
		panicHandler: options.PanicHandler,
	}
	pool.cond = sync.NewCond(&pool.mu)
	pool.workers.Add(size)
	for i := 0; i < size; i++ {
		go pool.work()
	}
	return pool
}

func (p *Pool) Name() string {
	if p == nil {
		return ""
	}
	return p.name
}

// Size reports the fixed worker count; it never changes after New.
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return p.size
}

// Submit queues task for execution. It returns ErrClosed after Shutdown.
func (p *Pool) Submit(task func()) error {
	if p == nil {
		return ErrClosed
	}
	if task == nil {
		return errors.New("task is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return ErrClosed
	}
	p.queue = append(p.queue, task)
	p.cond.Signal()
	return nil
}

// Shutdown stops accepting tasks and discards queued ones. Running tasks
// finish on their own; Shutdown does not wait for them, so it is safe to
// call from inside a task.
func (p *Pool) Shutdown() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	p.queue = nil
	p.cond.Broadcast()
}

// Wait blocks until every worker has exited after Shutdown.
func (p *Pool) Wait(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s pool: %w", p.name, ctx.Err())
	}
}

func (p *Pool) IsShutdown() bool {
	if p == nil {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

type Stats struct {
	Name      string
	Size      int
	Pending   int
	Active    int64
	Completed uint64
	Panics    uint64
}

func (p *Pool) Stats() Stats {
	if p == nil {
		return Stats{}
	}
	p.mu.Lock()
	pending := len(p.queue)
	p.mu.Unlock()
	return Stats{
		Name:      p.name,
		Size:      p.size,
		Pending:   pending,
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) work() {
	defer p.workers.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.shutdown {
			p.cond.Wait()
		}
		if p.shutdown {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.mu.Unlock()

		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.completed.Add(1)
		if recovered := recover(); recovered != nil {
			p.panics.Add(1)
			if p.logger != nil {
				p.logger.Error("worker task panicked", map[string]string{
					"pool":  p.name,
					"panic": fmt.Sprint(recovered),
				})
			}
			if p.panicHandler != nil {
				p.panicHandler(recovered)
			}
		}
	}()
	task()
}
