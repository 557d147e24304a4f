package supervise

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// ErrNilArgument is wrapped by options handed a nil dependency.
var ErrNilArgument = errors.New("nil argument")

// Option mutates the Micro instance during construction.
type Option func(*Micro) error

func nilArg(what string) error {
	return fmt.Errorf("%s: %w", what, ErrNilArgument)
}

// update runs fn with the write lock held.
func (micro *Micro) update(fn func()) {
	micro.mu.Lock()
	defer micro.mu.Unlock()
	fn()
}

// WithLogger installs the shared logger instance.
func WithLogger(logger Logger) Option {
	return func(ms *Micro) error {
		if logger == nil {
			return nilArg("logger")
		}
		ms.update(func() { ms.deps.Logger = logger })
		return nil
	}
}

// WithConfig wires a property-based configuration provider.
func WithConfig(cfg *Config) Option {
	return func(ms *Micro) error {
		if cfg == nil {
			return nilArg("config")
		}
		ms.update(func() { ms.deps.Config = cfg })
		return nil
	}
}

// WithErrorReporter installs the reporter used for worker failures. Nil
// selects NoopErrorReporter.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(ms *Micro) error {
		if reporter == nil {
			reporter = NoopErrorReporter{}
		}
		ms.update(func() { ms.deps.Errors = reporter })
		return nil
	}
}

// WithMetrics installs the metrics sink used by supervisors and HTTP routers.
// Nil selects NoopMetrics.
func WithMetrics(metrics Metrics) Option {
	return func(ms *Micro) error {
		if metrics == nil {
			metrics = NoopMetrics{}
		}
		ms.update(func() { ms.deps.Metrics = metrics })
		return nil
	}
}

// WithDeps allows bulk mutation of the dependency container.
func WithDeps(configurer func(*Deps) error) Option {
	return func(ms *Micro) error {
		if configurer == nil {
			return nilArg("dependency configurer")
		}
		var err error
		ms.update(func() { err = configurer(ms.deps) })
		if err != nil {
			return fmt.Errorf("configuring dependencies: %w", err)
		}
		return nil
	}
}

// WithHealthChecks registers liveness and readiness probes, in that order,
// under name. Missing or nil checks always pass.
func WithHealthChecks(name string, checks ...HealthCheck) Option {
	return func(ms *Micro) error {
		if name == "" {
			return errors.New("health check name required")
		}
		reg := healthCheckRegistration{name: name, liveness: HealthStatusOK, readiness: HealthStatusOK}
		for i, check := range checks {
			if check == nil {
				continue
			}
			switch i {
			case 0:
				reg.liveness = check
			case 1:
				reg.readiness = check
			}
		}
		ms.addHealthCheck(reg)
		return nil
	}
}

// WithDebugRoutes enables the /debug/routes endpoint on the HTTP server.
func WithDebugRoutes() Option {
	return func(ms *Micro) error {
		ms.update(func() { ms.debugRoutes = true })
		return nil
	}
}

// WithLifecycle registers components whose Start/Stop methods are invoked by
// the orchestrator before the runners start and after they stop. Components
// that must live on a listener's worker goroutine belong in the module list
// of WithHTTPServer/WithGRPCServer instead.
func WithLifecycle(components ...any) Option {
	return func(ms *Micro) error {
		starts, stops := collectHooks(components)
		for i := range starts {
			ms.addLifecycle(starts[i], stops[i])
		}
		return nil
	}
}

// WithRunner appends a component started after the lifecycle hooks.
func WithRunner(r Runner) Option {
	return func(ms *Micro) error {
		if r == nil {
			return nilArg("runner")
		}
		ms.addRunner(r)
		return nil
	}
}

// WithSupervisor appends a supervisor built from factory, logging and reporting
// through the shared dependencies.
func WithSupervisor(name string, factory Factory, opts ...SupervisorOption) Option {
	return func(ms *Micro) error {
		if factory == nil {
			return nilArg("supervisor factory")
		}
		deps := ms.Deps()
		all := append([]SupervisorOption{
			WithSupervisorLogger(deps.Logger),
			WithSupervisorErrorReporter(deps.Errors),
			WithSupervisorMetrics(deps.Metrics),
		}, opts...)
		ms.addRunner(NewSupervisor(name, factory, all...))
		return nil
	}
}

// WithShutdownTimeout bounds the time Run waits for the runners to stop.
func WithShutdownTimeout(d time.Duration) Option {
	return func(ms *Micro) error {
		if d < 0 {
			return errors.New("negative stop timeout")
		}
		ms.update(func() { ms.stopTimeout = d })
		return nil
	}
}

// WithHTTPMiddleware appends middlewares for every HTTP server, applied in
// the order given.
func WithHTTPMiddleware(middlewares ...func(http.Handler) http.Handler) Option {
	return func(ms *Micro) error {
		ms.update(func() { ms.httpMiddlewares = append(ms.httpMiddlewares, middlewares...) })
		return nil
	}
}

// WithRouterConfigurator allows callers to mutate the underlying *chi.Mux
// before HTTP modules register their routes.
func WithRouterConfigurator(configurer func(*chi.Mux)) Option {
	return func(ms *Micro) error {
		if configurer == nil {
			return nilArg("router configurator")
		}
		ms.update(func() { ms.routerConfig = append(ms.routerConfig, configurer) })
		return nil
	}
}

// WithShutdown registers a shutdown hook that runs after the runners stop.
func WithShutdown(fn ShutdownFunc) Option {
	return func(ms *Micro) error {
		if fn == nil {
			return nilArg("shutdown hook")
		}
		ms.addShutdown(fn)
		return nil
	}
}
