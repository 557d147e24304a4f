package supervise

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Micro orchestrates dependency wiring, runner lifecycle management, and shutdown hooks.
// Each supervised listener is one runner, so a single process can host several
// independent supervisors.
type Micro struct {
	deps     *Deps
	runners  []Runner
	shutdown []ShutdownFunc

	mu              sync.RWMutex
	httpConfigured  bool
	httpMiddlewares []func(http.Handler) http.Handler
	routerConfig    []func(*chi.Mux)
	stopTimeout     time.Duration

	healthChecks []healthCheckRegistration
	debugRoutes  bool

	startFuncs []func(context.Context) error
	stopFuncs  []func(context.Context) error
}

type healthCheckRegistration struct {
	name      string
	liveness  HealthCheck
	readiness HealthCheck
}

// ShutdownFunc is executed when Run exits, giving modules a chance to release resources.
type ShutdownFunc func(context.Context) error

// NewMicro builds a new Micro instance, applying the provided options sequentially.
// It panics when an option returns an error or mandatory dependencies are missing.
func NewMicro(opts ...Option) *Micro {
	ms := &Micro{
		deps: DefaultDeps(),
	}
	for _, opt := range opts {
		if err := opt(ms); err != nil {
			panic(fmt.Errorf("applying option: %w", err))
		}
	}
	ms.ensureCoreDependencies()
	return ms
}

// Run starts lifecycle components and runners, blocks until the context is
// cancelled, and then stops runners in reverse order before executing
// shutdown hooks. Runners are stopped with a context detached from ctx, bounded
// only by WithShutdownTimeout. Errors emitted while stopping or during shutdown are
// aggregated.
func (micro *Micro) Run(ctx context.Context) error {
	micro.mu.RLock()
	runners := append([]Runner(nil), micro.runners...)
	shutdown := append([]ShutdownFunc(nil), micro.shutdown...)
	startFns := append([]func(context.Context) error(nil), micro.startFuncs...)
	stopFns := append([]func(context.Context) error(nil), micro.stopFuncs...)
	stopTimeout := micro.stopTimeout
	logger := micro.deps.Logger
	micro.mu.RUnlock()

	if err := Start(ctx, logger, startFns, stopFns); err != nil {
		return fmt.Errorf("lifecycle start: %w", err)
	}

	stopCtx := func() (context.Context, context.CancelFunc) {
		base := context.WithoutCancel(ctx)
		if stopTimeout > 0 {
			return context.WithTimeout(base, stopTimeout)
		}
		return context.WithCancel(base)
	}

	for i, runner := range runners {
		if err := runner.Start(ctx); err != nil {
			err = fmt.Errorf("runner start: %w", err)
			sctx, cancel := stopCtx()
			for j := i - 1; j >= 0; j-- {
				if stopErr := runners[j].Stop(sctx); stopErr != nil {
					err = errors.Join(err, fmt.Errorf("runner rollback: %w", stopErr))
				}
			}
			err = errors.Join(err, stopHooks(sctx, stopFns))
			cancel()
			return err
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down gracefully")

	sctx, cancel := stopCtx()
	defer cancel()

	var aggErr error
	for i := len(runners) - 1; i >= 0; i-- {
		if err := runners[i].Stop(sctx); err != nil {
			aggErr = errors.Join(aggErr, fmt.Errorf("runner stop: %w", err))
		}
	}
	aggErr = errors.Join(aggErr, stopHooks(sctx, stopFns))
	for _, hook := range shutdown {
		if err := hook(sctx); err != nil {
			aggErr = errors.Join(aggErr, fmt.Errorf("shutdown hook: %w", err))
		}
	}
	return aggErr
}

// Deps exposes the wired dependency container.
func (micro *Micro) Deps() *Deps {
	micro.mu.RLock()
	defer micro.mu.RUnlock()
	return micro.deps
}

// Runners returns the registered runners in start order.
func (micro *Micro) Runners() []Runner {
	micro.mu.RLock()
	defer micro.mu.RUnlock()
	return append([]Runner(nil), micro.runners...)
}

func (micro *Micro) addRunner(r Runner) {
	micro.update(func() { micro.runners = append(micro.runners, r) })
}

func (micro *Micro) addShutdown(fn ShutdownFunc) {
	micro.update(func() { micro.shutdown = append(micro.shutdown, fn) })
}

func (micro *Micro) addHealthCheck(reg healthCheckRegistration) {
	micro.update(func() { micro.healthChecks = append(micro.healthChecks, reg) })
}

// ensureCoreDependencies panics unless both logger and config are wired.
func (micro *Micro) ensureCoreDependencies() {
	deps := micro.Deps()
	switch {
	case deps.Logger == nil:
		panic("logger dependency must be configured")
	case deps.Config == nil:
		panic("config dependency must be configured")
	}
}

// requireCore is checked by options that read configuration at construction.
func (micro *Micro) requireCore() error {
	if micro.deps.Config == nil {
		return errors.New("config must be configured before listeners")
	}
	if micro.deps.Logger == nil {
		return errors.New("logger must be configured before listeners")
	}
	return nil
}

// addLifecycle appends a start/stop pair; a nil side becomes a no-op so the
// two slices stay index-aligned.
func (micro *Micro) addLifecycle(start, stop func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	if start == nil {
		start = noop
	}
	if stop == nil {
		stop = noop
	}
	micro.update(func() {
		micro.startFuncs = append(micro.startFuncs, start)
		micro.stopFuncs = append(micro.stopFuncs, stop)
	})
}
