package supervise

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotStarted  = errors.New("supervisor not started")
	ErrStopTimeout = errors.New("stop deadline exceeded, worker aborted")
)

// State is the supervisor lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Strategy selects how the supervisor tells the run loop to exit.
type Strategy int

const (
	// StrategyDirect calls Stop on the unit published through the ready gate.
	StrategyDirect Strategy = iota
	// StrategyPolling flips a StopSignal the run loop checks between accepts.
	StrategyPolling
)

func (s Strategy) String() string {
	if s == StrategyPolling {
		return "polling"
	}
	return "direct"
}

// ParseStrategy maps "direct" and "polling" to a Strategy. Empty means direct.
func ParseStrategy(v string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "direct", "signal":
		return StrategyDirect, nil
	case "polling", "poll", "condition":
		return StrategyPolling, nil
	default:
		return StrategyDirect, fmt.Errorf("unknown stop strategy %q", v)
	}
}

// Components is what a Factory builds on the worker goroutine.
type Components struct {
	Unit       ServerUnit
	Acceptor   Acceptor
	Dispatcher Dispatcher
}

// Factory builds the server unit and its collaborators on the worker
// goroutine. env is nil unless the supervisor encloses an environment.
type Factory func(ctx context.Context, env *Environment) (*Components, error)

// Supervisor runs exactly one server unit on its own goroutine and offers a
// Start/Stop pair to the controlling program. Start and Stop are serialized;
// Stop is idempotent and returns only once the worker has exited.
type Supervisor struct {
	name        string
	factory     Factory
	strategy    Strategy
	enclose     bool
	stopTimeout time.Duration
	hooks       []any
	logger      Logger
	errors      ErrorReporter
	metrics     Metrics

	mu      sync.Mutex
	state   atomic.Int32
	current atomic.Pointer[worker]
}

// worker holds the state of one run. handle and buildErr are written before
// gate is published; err is written before done is closed. joined and result
// are guarded by Supervisor.mu.
type worker struct {
	id       string
	signal   *StopSignal
	gate     *ReadyGate
	done     chan struct{}
	handle   *Components
	buildErr error
	err      error
	joined   bool
	result   error

	// abandoned is set by a Stop that gave up waiting for the gate.
	abandoned atomic.Bool
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

func WithStrategy(strategy Strategy) SupervisorOption {
	return func(s *Supervisor) {
		s.strategy = strategy
	}
}

// WithEnclosure binds a fresh Environment to each worker run.
func WithEnclosure(enabled bool) SupervisorOption {
	return func(s *Supervisor) {
		s.enclose = enabled
	}
}

// WithStopTimeout bounds Stop. When it expires the dispatcher is aborted.
// Zero waits indefinitely.
func WithStopTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) {
		if d >= 0 {
			s.stopTimeout = d
		}
	}
}

func WithSupervisorLogger(logger Logger) SupervisorOption {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSupervisorErrorReporter(reporter ErrorReporter) SupervisorOption {
	return func(s *Supervisor) {
		if reporter != nil {
			s.errors = reporter
		}
	}
}

// WithSupervisorMetrics sets the sink for run, worker error and stop timeout
// counters.
func WithSupervisorMetrics(metrics Metrics) SupervisorOption {
	return func(s *Supervisor) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithHooks registers Startable/Stoppable components run on the worker
// goroutine: started before the factory, stopped after the drain.
func WithHooks(components ...any) SupervisorOption {
	return func(s *Supervisor) {
		for _, c := range components {
			if c != nil {
				s.hooks = append(s.hooks, c)
			}
		}
	}
}

// NewSupervisor returns an idle supervisor. It panics on a nil factory.
func NewSupervisor(name string, factory Factory, opts ...SupervisorOption) *Supervisor {
	if factory == nil {
		panic("supervise: nil factory")
	}
	s := &Supervisor{
		name:    name,
		factory: factory,
		logger:  NewNoopLogger(),
		errors:  NoopErrorReporter{},
		metrics: NoopMetrics{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Name returns the supervisor name.
func (s *Supervisor) Name() string {
	return s.name
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Start spawns the worker goroutine and returns without waiting for it to be
// ready. It is a no-op while a worker is active. ctx only carries values to
// the factory; cancelling it does not stop the worker.
func (s *Supervisor) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateStarting, StateRunning:
		s.logger.Debug("start ignored, supervisor already active", "supervisor", s.name)
		return nil
	}

	w := &worker{
		id:     uuid.NewString(),
		signal: NewStopSignal(),
		gate:   NewReadyGate(),
		done:   make(chan struct{}),
	}
	s.current.Store(w)
	s.state.Store(int32(StateStarting))

	s.count(ctx, MetricSupervisorRuns)
	go s.work(context.WithoutCancel(ctx), w)
	return nil
}

// Stop stops admissions, signals the unit and blocks until the worker has
// exited. Calls on an idle or stopped supervisor return immediately. If ctx
// expires first the dispatcher is aborted and ErrStopTimeout is returned
// once the worker is gone. A worker still starting when ctx expires is
// abandoned instead: it exits without serving once its hooks return.
func (s *Supervisor) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.current.Load()
	if w == nil {
		return nil
	}
	if w.joined {
		return w.result
	}
	s.state.Store(int32(StateStopping))

	if s.stopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.stopTimeout)
		defer cancel()
	}

	if err := w.gate.AwaitContext(ctx); err != nil {
		// The worker is still inside its start hooks or factory. It sees the
		// flag once it publishes and exits without serving.
		w.abandoned.Store(true)
		w.signal.Set(false)
		if !w.gate.IsReady() {
			s.logger.Error("worker not ready before deadline, abandoning it", "supervisor", s.name, "run", w.id)
			w.joined = true
			w.result = fmt.Errorf("%w: %w", ErrStopTimeout, err)
			s.count(ctx, MetricSupervisorStopTimeouts)
			s.state.Store(int32(StateStopped))
			return w.result
		}
	}
	if h := w.handle; h != nil {
		h.Acceptor.Stop()
		switch s.strategy {
		case StrategyPolling:
			w.signal.Set(false)
		default:
			h.Unit.Stop()
		}
	}

	w.result = s.join(ctx, w)
	if errors.Is(w.result, ErrStopTimeout) {
		s.count(ctx, MetricSupervisorStopTimeouts)
	}
	s.state.Store(int32(StateStopped))
	return w.result
}

// AwaitReady blocks until the current worker has built and published its
// unit, returning the build error if any.
func (s *Supervisor) AwaitReady(ctx context.Context) error {
	w := s.current.Load()
	if w == nil {
		return ErrNotStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := w.gate.AwaitContext(ctx); err != nil {
		return err
	}
	return w.buildErr
}

// Wait blocks until the current worker exits on its own or through Stop.
// It does not request a stop.
func (s *Supervisor) Wait(ctx context.Context) error {
	w := s.current.Load()
	if w == nil {
		return ErrNotStarted
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr returns the listening address once the unit is published.
func (s *Supervisor) Addr() net.Addr {
	w := s.current.Load()
	if w == nil || !w.gate.IsReady() || w.handle == nil {
		return nil
	}
	return w.handle.Acceptor.Addr()
}

// HealthChecks exposes a readiness probe failing unless the worker runs.
func (s *Supervisor) HealthChecks() HealthChecks {
	return HealthChecks{
		Readiness: map[string]HealthCheck{s.name: s.checkRunning},
	}
}

func (s *Supervisor) checkRunning(context.Context) error {
	if st := s.State(); st != StateRunning {
		return fmt.Errorf("supervisor %s is %s", s.name, st)
	}
	if w := s.current.Load(); w != nil {
		select {
		case <-w.done:
			return fmt.Errorf("supervisor %s worker exited", s.name)
		default:
		}
	}
	return nil
}

// join must only be called with s.mu held.
func (s *Supervisor) join(ctx context.Context, w *worker) error {
	if w.joined {
		panic("supervise: worker joined twice")
	}
	w.joined = true

	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
	}

	s.logger.Error("drain not finished before deadline, aborting", "supervisor", s.name, "run", w.id)
	if h := w.handle; h != nil {
		if a, ok := h.Dispatcher.(Aborter); ok {
			a.Abort()
		}
	}
	<-w.done
	return errors.Join(fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err()), w.err)
}

func (s *Supervisor) work(ctx context.Context, w *worker) {
	defer close(w.done)
	defer w.gate.Publish()

	log := s.logger.With("supervisor", s.name, "run", w.id)

	var env *Environment
	if s.enclose {
		env = NewEnvironment()
	}
	ctx = WithRunID(ctx, w.id)
	err := Enclose(env, log, func(env *Environment) error {
		return s.serve(ctx, w, env, log)
	})
	w.err = err

	if err != nil {
		log.Error("worker exited with error", "error", err)
		s.errors.Report(ctx, err, map[string]any{"supervisor": s.name, "run": w.id})
		s.count(ctx, MetricSupervisorWorkerErrors)
		return
	}
	log.Info("worker exited")
}

func (s *Supervisor) serve(ctx context.Context, w *worker, env *Environment, log Logger) error {
	starts, stops := collectHooks(s.hooks)
	if err := Start(ctx, log, starts, stops); err != nil {
		w.buildErr = fmt.Errorf("start hooks: %w", err)
		return w.buildErr
	}

	comps, err := s.factory(ctx, env)
	if err == nil {
		err = comps.validate()
	}
	if err != nil {
		w.buildErr = fmt.Errorf("build server: %w", err)
		return errors.Join(w.buildErr, stopHooks(ctx, stops))
	}

	w.handle = comps
	if !w.abandoned.Load() && s.current.Load() == w {
		s.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	}
	w.gate.Publish()

	var runErr error
	switch {
	case w.abandoned.Load():
		log.Info("stop gave up before the server ran")
		runErr = comps.Unit.RunWhile(func() bool { return false })
	case s.strategy == StrategyPolling:
		log.Info("server running", "addr", comps.Acceptor.Addr().String(), "strategy", s.strategy.String())
		runErr = comps.Unit.RunWhile(w.signal.Get)
	default:
		log.Info("server running", "addr", comps.Acceptor.Addr().String(), "strategy", s.strategy.String())
		runErr = comps.Unit.Run()
	}

	comps.Acceptor.Stop()
	comps.Dispatcher.Stop()
	log.Info("server drained")

	if runErr != nil {
		runErr = fmt.Errorf("run server: %w", runErr)
	}
	return errors.Join(runErr, stopHooks(ctx, stops))
}

func (c *Components) validate() error {
	switch {
	case c == nil:
		return errors.New("factory returned nil components")
	case c.Unit == nil:
		return errors.New("factory returned nil unit")
	case c.Acceptor == nil:
		return errors.New("factory returned nil acceptor")
	case c.Dispatcher == nil:
		return errors.New("factory returned nil dispatcher")
	}
	return nil
}

func (s *Supervisor) count(ctx context.Context, name string) {
	s.metrics.Counter(ctx, name, 1, map[string]string{"supervisor": s.name})
}
