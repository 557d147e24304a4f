package supervise

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// Acceptor hands inbound connections to a server unit.
type Acceptor interface {
	// Accept blocks until a connection arrives or the acceptor is stopped.
	// Once stopped it returns an error wrapping net.ErrClosed.
	Accept() (net.Conn, error)
	// Stop stops admitting connections. It must be safe to call while Accept
	// is blocked and more than once.
	Stop()
	Addr() net.Addr
}

// deadliner is implemented by acceptors whose Accept can be bounded in time.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// TCPAcceptor is an Acceptor over a stream net.Listener.
type TCPAcceptor struct {
	listener net.Listener
	once     sync.Once
	closeErr error
}

// tcpNetListen redirects to net.Listen.
var tcpNetListen = net.Listen

// Listen opens a TCP acceptor on addr.
func Listen(addr string) (*TCPAcceptor, error) {
	ln, err := tcpNetListen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return NewTCPAcceptor(ln), nil
}

// NewTCPAcceptor wraps an already bound listener.
func NewTCPAcceptor(ln net.Listener) *TCPAcceptor {
	return &TCPAcceptor{listener: ln}
}

func (a *TCPAcceptor) Accept() (net.Conn, error) {
	return a.listener.Accept()
}

// Stop closes the underlying listener once.
func (a *TCPAcceptor) Stop() {
	a.once.Do(func() {
		a.closeErr = a.listener.Close()
	})
}

// Close is Stop returning the close error, so the acceptor can be released
// as an io.Closer.
func (a *TCPAcceptor) Close() error {
	a.Stop()
	if errors.Is(a.closeErr, net.ErrClosed) {
		return nil
	}
	return a.closeErr
}

func (a *TCPAcceptor) Addr() net.Addr {
	return a.listener.Addr()
}

// SetDeadline bounds the next Accept when the listener supports it.
func (a *TCPAcceptor) SetDeadline(t time.Time) error {
	d, ok := a.listener.(deadliner)
	if !ok {
		return errors.ErrUnsupported
	}
	return d.SetDeadline(t)
}
