package enginepool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/archenemy/crawlforge/internal/fetchengine"
)

type fakeEngine struct {
	id        int
	cleanedUp atomic.Bool
}

func (f *fakeEngine) Cleanup() { f.cleanedUp.Store(true) }

func (f *fakeEngine) Fetch(ctx context.Context, url string, opts fetchengine.FetchOptions) (fetchengine.FetchResponse, error) {
	return fetchengine.FetchResponse{Success: true}, nil
}

func newFactory() (Factory, *atomic.Int64) {
	var n atomic.Int64
	return func() (Engine, error) {
		id := n.Add(1)
		return &fakeEngine{id: int(id)}, nil
	}, &n
}

func TestAcquireConstructsUpToMax(t *testing.T) {
	factory, n := newFactory()
	p := New(2, factory)
	ctx := context.Background()

	e1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}
	e2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 2: %v", err)
	}
	if n.Load() != 2 {
		t.Fatalf("expected 2 constructed engines, got %d", n.Load())
	}
	_, active := p.Counts()
	if active != 2 {
		t.Fatalf("expected 2 active, got %d", active)
	}
	p.Release(e1)
	p.Release(e2)
}

func TestAcquireBlocksThenHandsToWaiter(t *testing.T) {
	factory, _ := newFactory()
	p := New(1, factory)
	ctx := context.Background()

	e1, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire 1: %v", err)
	}

	done := make(chan Engine, 1)
	go func() {
		e, err := p.Acquire(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- e
	}()

	time.Sleep(20 * time.Millisecond) // let the goroutine join the waiter list
	p.Release(e1)

	select {
	case e2 := <-done:
		if e2 != e1 {
			t.Fatalf("expected waiter to receive the released engine directly")
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never unblocked")
	}
}

func TestCleanupIdempotentAndUnblocksWaiters(t *testing.T) {
	factory, _ := newFactory()
	p := New(1, factory)
	ctx := context.Background()

	e1, _ := p.Acquire(ctx)

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Cleanup()
	p.Cleanup() // idempotent

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("expected ErrClosed for waiter, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter never unblocked by Cleanup")
	}

	fe := e1.(*fakeEngine)
	if !fe.cleanedUp.Load() {
		t.Fatalf("expected held engine to be cleaned up")
	}

	idle, active := p.Counts()
	if idle != 0 || active != 0 {
		t.Fatalf("expected 0/0 after cleanup, got idle=%d active=%d", idle, active)
	}
}
