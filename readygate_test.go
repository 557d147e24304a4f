package supervise

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestReadyGateAwaitBlocksUntilPublish(t *testing.T) {
	g := NewReadyGate()
	var published atomic.Bool
	var value int

	const waiters = 32
	var wg sync.WaitGroup
	early := make(chan struct{}, waiters)
	seen := make(chan int, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Await()
			if !published.Load() {
				early <- struct{}{}
			}
			seen <- value
		}()
	}

	time.Sleep(20 * time.Millisecond)
	value = 42
	published.Store(true)
	g.Publish()
	wg.Wait()

	if len(early) != 0 {
		t.Errorf("%d waiters returned before Publish", len(early))
	}
	close(seen)
	for v := range seen {
		if v != 42 {
			t.Errorf("waiter observed %d, want 42", v)
		}
	}
}

func TestReadyGatePublishIdempotent(t *testing.T) {
	g := NewReadyGate()
	if g.IsReady() {
		t.Fatal("new gate should not be ready")
	}

	g.Publish()
	g.Publish()

	if !g.IsReady() {
		t.Error("gate should be ready after Publish")
	}
	select {
	case <-g.Done():
	default:
		t.Error("Done channel should be closed")
	}

	// Awaiting a published gate returns immediately.
	g.Await()
}

func TestReadyGateAwaitContext(t *testing.T) {
	tests := []struct {
		name    string
		publish bool
		wantErr error
	}{
		{"published", true, nil},
		{"deadline", false, context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewReadyGate()
			if tt.publish {
				g.Publish()
			}
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			err := g.AwaitContext(ctx)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("AwaitContext() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
