package supervise

import (
	"net"
	"sync"
)

// connListener is a net.Listener fed by Dispatch. It lets http.Server and
// grpc.Server serve connections admitted by a server unit instead of owning
// the socket themselves.
type connListener struct {
	addr   net.Addr
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newConnListener(addr net.Addr) *connListener {
	if addr == nil {
		addr = pipeAddr{}
	}
	return &connListener{
		addr:   addr,
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// push blocks until the serving loop takes conn. It returns false and closes
// conn when the listener is closed first.
func (l *connListener) push(conn net.Conn) bool {
	select {
	case <-l.closed:
		_ = conn.Close()
		return false
	default:
	}
	select {
	case l.conns <- conn:
		return true
	case <-l.closed:
		_ = conn.Close()
		return false
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

func (l *connListener) Close() error {
	l.once.Do(func() { close(l.closed) })
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.addr
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }
