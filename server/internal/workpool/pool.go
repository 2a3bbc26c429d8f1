// Package workpool runs upstream fetches on a fixed set of workers fed by a
// bounded queue, so a slow provider call never runs on the goroutine of the
// component that asked for it.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tubedrift/tubedrift/pkg/types"
)

// ErrPoolClosed is returned for work submitted to, or abandoned by, a closed pool.
var ErrPoolClosed = errors.New("workpool: closed")

// Defaults applied by New for non-positive arguments.
const (
	DefaultWorkers   = 8
	DefaultQueueSize = 64
)

// Task is one unit of work. It must honour ctx.
type Task func(ctx context.Context) (any, error)

type result struct {
	val any
	err error
}

type job struct {
	ctx  context.Context
	task Task
	out  chan result // buffered 1; an abandoned result never blocks a worker
}

// Pool is a bounded worker pool. All methods are safe for concurrent use.
type Pool struct {
	name   string
	queue  chan job
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	running atomic.Int64
}

// New starts a pool of workers draining a queue of queueSize.
func New(name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   name,
		queue:  make(chan job, queueSize),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.runWorker(&wg, i)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()
	return p
}

// Do queues task and waits for its result. It blocks while the queue is full.
// When ctx ends first, Do returns ctx.Err() and the task's eventual result is
// discarded.
func (p *Pool) Do(ctx context.Context, task Task) (any, error) {
	j := job{ctx: ctx, task: task, out: make(chan result, 1)}

	select {
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	default:
	}

	select {
	case p.queue <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}

	select {
	case r := <-j.out:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.ctx.Done():
		return nil, ErrPoolClosed
	}
}

// Run is the typed form of Do.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := p.Do(ctx, func(ctx context.Context) (any, error) {
		t, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("workpool %s: task returned %T, want %T: %w", p.name, v, zero, types.ErrInternal)
	}
	return t, nil
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int { return len(p.queue) }

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int { return int(p.running.Load()) }

// Close stops the workers and waits for them to exit, or for ctx to end.
// Queued tasks that have not started are dropped; their callers receive
// ErrPoolClosed.
func (p *Pool) Close(ctx context.Context) error {
	p.once.Do(p.cancel)
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workpool %s: close: %w", p.name, ctx.Err())
	}
}

func (p *Pool) runWorker(wg *sync.WaitGroup, id int) {
	defer wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.queue:
			if err := j.ctx.Err(); err != nil {
				j.out <- result{err: err}
				continue
			}
			p.running.Add(1)
			v, err := runSafely(fmt.Sprintf("workpool %s worker %d", p.name, id), func() (any, error) {
				return j.task(j.ctx)
			})
			p.running.Add(-1)
			j.out <- result{val: v, err: err}
		}
	}
}

// runSafely executes fn and converts a panic into an internal error tagged
// with scope.
func runSafely(scope string, fn func() (any, error)) (v any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			v = nil
			err = fmt.Errorf("%s: panic recovered: %v: %w", scope, recovered, types.ErrInternal)
		}
	}()
	return fn()
}
