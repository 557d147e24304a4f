package supervise

import (
	"context"
	"sync"
)

// ReadyGate is a one-shot latch used to hand a value built on the worker
// goroutine over to the controller. Whatever the worker writes before Publish
// is visible to any goroutine returning from Await.
type ReadyGate struct {
	mu    sync.Mutex
	cond  *sync.Cond
	ready bool
	done  chan struct{}
}

// NewReadyGate returns a closed gate.
func NewReadyGate() *ReadyGate {
	g := &ReadyGate{done: make(chan struct{})}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Publish opens the gate and wakes every waiter. Further calls only
// re-broadcast.
func (g *ReadyGate) Publish() {
	g.mu.Lock()
	if !g.ready {
		g.ready = true
		close(g.done)
	}
	g.mu.Unlock()
	g.cond.Broadcast()
}

// Await blocks until Publish has been called.
func (g *ReadyGate) Await() {
	g.mu.Lock()
	for !g.ready {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// AwaitContext is Await bounded by ctx.
func (g *ReadyGate) AwaitContext(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	default:
	}
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed on Publish.
func (g *ReadyGate) Done() <-chan struct{} {
	return g.done
}

// IsReady reports whether the gate has been published.
func (g *ReadyGate) IsReady() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}
