package supervise

import (
	"context"
	"errors"
	"net"
	"sync"
)

// ErrDispatcherStopped is returned to connection handlers that race a drain.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// Dispatcher serves connections admitted by a server unit.
type Dispatcher interface {
	// Dispatch hands conn over. It must not block on the work itself.
	Dispatch(conn net.Conn)
	// Stop refuses further connections and blocks until in-flight work
	// has completed.
	Stop()
}

// Aborter is implemented by dispatchers able to cut in-flight work short.
// It is used when a bounded shutdown expires.
type Aborter interface {
	Abort()
}

// ConnHandler serves a single raw connection. ctx is cancelled on Abort.
type ConnHandler func(ctx context.Context, conn net.Conn)

// ConnDispatcher runs a ConnHandler per connection on its own goroutine.
type ConnDispatcher struct {
	handler ConnHandler
	logger  Logger

	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnDispatcher builds a dispatcher around handler.
func NewConnDispatcher(handler ConnHandler, logger Logger) *ConnDispatcher {
	if logger == nil {
		logger = NewNoopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnDispatcher{
		handler: handler,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (d *ConnDispatcher) Dispatch(conn net.Conn) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.logger.Debug("connection refused, dispatcher stopped", "remote_addr", conn.RemoteAddr())
		_ = conn.Close()
		return
	}
	d.conns[conn] = struct{}{}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer d.release(conn)
		d.handler(d.ctx, conn)
	}()
}

func (d *ConnDispatcher) release(conn net.Conn) {
	_ = conn.Close()
	d.mu.Lock()
	delete(d.conns, conn)
	d.mu.Unlock()
}

// Stop waits for every handler to return.
func (d *ConnDispatcher) Stop() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
	d.cancel()
}

// Abort cancels handler contexts and closes open connections.
func (d *ConnDispatcher) Abort() {
	d.cancel()
	d.mu.Lock()
	d.stopped = true
	for conn := range d.conns {
		_ = conn.Close()
	}
	d.mu.Unlock()
}

// Active returns the number of connections currently served.
func (d *ConnDispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}
