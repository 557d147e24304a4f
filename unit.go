package supervise

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a server unit.
type Status int32

const (
	StatusCreated Status = iota
	StatusRunning
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRunning:
		return "running"
	case StatusStopped:
		return "stopped"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// ErrUnitReused is returned when a unit is run a second time.
var ErrUnitReused = errors.New("server unit already ran")

// ServerUnit accepts connections and dispatches them until told to stop.
type ServerUnit interface {
	// Run blocks until Stop is called or the acceptor is closed.
	Run() error
	// RunWhile blocks like Run and also returns once cont reports false.
	// cont is evaluated before every accept and must be cheap.
	RunWhile(cont func() bool) error
	// Stop asks the run loop to exit. It does not wait.
	Stop()
	Status() Status
}

const (
	defaultPollInterval = 100 * time.Millisecond
	maxAcceptBackoff    = time.Second
)

// Server is the ServerUnit pairing an Acceptor with a Dispatcher.
type Server struct {
	acceptor     Acceptor
	dispatcher   Dispatcher
	logger       Logger
	pollInterval time.Duration

	status   atomic.Int32
	stopping atomic.Bool
	release  func()
	setupErr error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPollInterval bounds each accept in RunWhile so the predicate is
// re-evaluated even when no connection arrives.
func WithPollInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithServerLogger sets the logger used for accept errors.
func WithServerLogger(logger Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServerEnvironment accounts the server as an object of env for as long
// as it has not stopped. If env is not active the server refuses to run.
func WithServerEnvironment(env *Environment) ServerOption {
	return func(s *Server) {
		if env == nil {
			return
		}
		release, err := env.Track("server")
		if err != nil {
			s.setupErr = err
			return
		}
		s.release = release
	}
}

// NewServer builds a unit in the created state.
func NewServer(acceptor Acceptor, dispatcher Dispatcher, opts ...ServerOption) *Server {
	s := &Server{
		acceptor:     acceptor,
		dispatcher:   dispatcher,
		logger:       NewNoopLogger(),
		pollInterval: defaultPollInterval,
		release:      func() {},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Server) Run() error {
	return s.serve(nil)
}

func (s *Server) RunWhile(cont func() bool) error {
	if cont == nil {
		return s.serve(nil)
	}
	return s.serve(cont)
}

// Stop marks the unit as stopping and wakes a blocked accept. When the
// acceptor supports deadlines the deadline is expired instead of closing the
// acceptor, leaving the close to Acceptor.Stop.
func (s *Server) Stop() {
	if s.stopping.Swap(true) || s.Status() != StatusRunning {
		return
	}
	if d, ok := s.acceptor.(deadliner); ok {
		if err := d.SetDeadline(time.Now()); err == nil {
			return
		}
	}
	s.acceptor.Stop()
}

func (s *Server) Status() Status {
	return Status(s.status.Load())
}

// Addr returns the acceptor address.
func (s *Server) Addr() net.Addr {
	return s.acceptor.Addr()
}

func (s *Server) serve(cont func() bool) error {
	if err := s.setupErr; err != nil {
		if !s.status.CompareAndSwap(int32(StatusCreated), int32(StatusStopped)) {
			return ErrUnitReused
		}
		s.logger.Error("server not run", "error", err)
		return fmt.Errorf("server setup: %w", err)
	}
	if !s.status.CompareAndSwap(int32(StatusCreated), int32(StatusRunning)) {
		return ErrUnitReused
	}
	defer s.release()
	defer s.status.Store(int32(StatusStopped))

	dl, bounded := s.acceptor.(deadliner)
	bounded = bounded && cont != nil

	var backoff time.Duration
	for {
		if s.stopping.Load() {
			return nil
		}
		if cont != nil && !cont() {
			return nil
		}
		if bounded {
			if err := dl.SetDeadline(time.Now().Add(s.pollInterval)); err != nil {
				bounded = false
			}
		}

		conn, err := s.acceptor.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			var te interface{ Temporary() bool }
			if errors.As(err, &te) && te.Temporary() {
				backoff = nextBackoff(backoff)
				s.logger.Error("accept error, retrying", "error", err, "backoff", backoff)
				time.Sleep(backoff)
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0
		s.dispatcher.Dispatch(conn)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}
