// Package enginepool implements the bounded reusable pool of fetch engines
// with a FIFO wait queue, grounded on the single-critical-section shape of
// the teacher's Frontier and the bounded-pool/wait-queue lifecycle of
// shxrryhuang-plandex's app/server performance.WorkerPool (there a job
// queue, here a handle lease — the pool hands an *Engine* back and forth
// rather than running a submitted job).
package enginepool

import (
	"context"
	"fmt"
	"sync"

	"github.com/archenemy/crawlforge/internal/fetchengine"
)

// Engine is the capability the pool manages: the same Engine capability the
// orchestrator's handlers call Fetch on. Concrete fetch implementations
// live in the reference domain stack (internal/httpengine,
// internal/browserengine); the pool only ever calls Cleanup on them.
type Engine = fetchengine.Engine

// Factory constructs a new Engine instance on demand.
type Factory func() (Engine, error)

// waiter is a pending Acquire call; it is resolved by exactly one of
// release (handing over an engine) or Cleanup (handing over the zero value
// with ok=false).
type waiter struct {
	ch chan waiterResult
}

type waiterResult struct {
	engine Engine
	ok     bool
}

// Pool is the bounded engine pool described by the core spec.
type Pool struct {
	mu       sync.Mutex
	maxSize  int
	factory  Factory
	idle     []Engine
	active   map[Engine]struct{}
	reserved int // slots claimed for an in-flight factory() call, not yet in active
	waiters  []*waiter
	closed   bool
}

// New constructs a Pool bounded to maxSize concurrently active engines.
func New(maxSize int, factory Factory) *Pool {
	return &Pool{
		maxSize: maxSize,
		factory: factory,
		active:  make(map[Engine]struct{}),
	}
}

// Acquire returns an idle engine if one exists; otherwise constructs a new
// one if under maxSize; otherwise blocks on the waiter list until Release
// hands one over or Cleanup unblocks every waiter with ctx.Err()/ErrClosed.
func (p *Pool) Acquire(ctx context.Context) (Engine, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}

	if n := len(p.idle); n > 0 {
		e := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active[e] = struct{}{}
		p.mu.Unlock()
		return e, nil
	}

	if len(p.active)+p.reserved < p.maxSize {
		p.reserved++
		p.mu.Unlock()
		e, err := p.factory()
		p.mu.Lock()
		p.reserved--
		if err != nil {
			p.mu.Unlock()
			return nil, fmt.Errorf("enginepool: construct engine: %w", err)
		}
		p.active[e] = struct{}{}
		p.mu.Unlock()
		return e, nil
	}

	w := &waiter{ch: make(chan waiterResult, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case res := <-w.ch:
		if !res.ok {
			return nil, ErrClosed
		}
		return res.engine, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns an engine to the pool: if a waiter is pending, it is
// handed directly to the oldest waiter (the engine stays active); otherwise
// the engine moves to idle.
func (p *Pool) Release(e Engine) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.ch <- waiterResult{engine: e, ok: true}
		return
	}

	delete(p.active, e)
	p.idle = append(p.idle, e)
}

// Cleanup concurrently invokes Cleanup on every idle and active instance,
// resolves every pending waiter with a sentinel so they unblock, and drops
// all references. Idempotent.
func (p *Pool) Cleanup() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	all := make([]Engine, 0, len(p.idle)+len(p.active))
	all = append(all, p.idle...)
	for e := range p.active {
		all = append(all, e)
	}
	waiters := p.waiters
	p.idle = nil
	p.active = make(map[Engine]struct{})
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- waiterResult{ok: false}
	}

	var wg sync.WaitGroup
	for _, e := range all {
		wg.Add(1)
		go func(e Engine) {
			defer wg.Done()
			e.Cleanup()
		}(e)
	}
	wg.Wait()
}

// Counts returns the current idle and active sizes, for metrics/tests.
func (p *Pool) Counts() (idle, active int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle), len(p.active)
}

// ErrClosed is returned by Acquire once Cleanup has run.
var ErrClosed = poolClosedError{}

type poolClosedError struct{}

func (poolClosedError) Error() string { return "enginepool: pool is closed" }
