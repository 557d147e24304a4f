package supervise

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// HTTPModule exposes a route registration entrypoint for HTTP transports.
type HTTPModule interface {
	RegisterRoutes(router chi.Router)
}

// HTTPModuleFactory constructs an HTTPModule from the shared dependency container.
type HTTPModuleFactory func(*Deps) (HTTPModule, error)

// HTTPDispatcher serves admitted connections with an http.Server. Stop runs
// a graceful Shutdown, Abort closes every connection.
type HTTPDispatcher struct {
	server *http.Server
	ln     *connListener
	logger Logger
	served chan struct{}
}

// NewHTTPDispatcher starts serving handler on connections passed to Dispatch.
// addr is only reported to handlers through the listener.
func NewHTTPDispatcher(handler http.Handler, addr net.Addr, logger Logger) *HTTPDispatcher {
	if logger == nil {
		logger = NewNoopLogger()
	}
	d := &HTTPDispatcher{
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     newConnListener(addr),
		logger: logger,
		served: make(chan struct{}),
	}
	go func() {
		defer close(d.served)
		if err := d.server.Serve(d.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("http serve failed", "error", err)
		}
	}()
	return d
}

func (d *HTTPDispatcher) Dispatch(conn net.Conn) {
	d.ln.push(conn)
}

// Stop waits for in-flight requests without a deadline.
func (d *HTTPDispatcher) Stop() {
	if err := d.server.Shutdown(context.Background()); err != nil {
		d.logger.Error("http shutdown failed", "error", err)
	}
	<-d.served
}

func (d *HTTPDispatcher) Abort() {
	if err := d.server.Close(); err != nil {
		d.logger.Error("http close failed", "error", err)
	}
}

// WithHTTPServerModules is a convenience helper for the common case where
// modules do not need to access the shared dependency container during
// construction. It wraps the provided modules into factories and delegates to
// WithHTTPServer.
func WithHTTPServerModules(addrKey string, modules ...HTTPModule) Option {
	factories := make([]HTTPModuleFactory, len(modules))
	for i, module := range modules {
		mod := module
		factories[i] = func(*Deps) (HTTPModule, error) {
			if mod == nil {
				return nil, errors.New("nil http module provided")
			}
			return mod, nil
		}
	}
	return WithHTTPServer(addrKey, factories...)
}

// WithHTTPServer mounts a supervised chi HTTP listener. The address is read
// from addrKey and the rest of the listener settings from its parent subtree
// (e.g. "http.port" reads "http.strategy", "http.stop_timeout", ...). The
// router is rebuilt on the worker goroutine for every run.
func WithHTTPServer(addrKey string, factories ...HTTPModuleFactory) Option {
	return func(ms *Micro) error {
		if addrKey == "" {
			return errors.New("http addr property key required")
		}

		ms.mu.Lock()
		defer ms.mu.Unlock()
		if ms.httpConfigured {
			return errors.New("http server already configured")
		}
		ms.httpConfigured = true

		if err := ms.requireCore(); err != nil {
			return err
		}

		settings, err := ms.deps.Config.ListenerSettings(addrKey, ":8080")
		if err != nil {
			return fmt.Errorf("http listener settings: %w", err)
		}
		supOpts, err := settings.SupervisorOptions()
		if err != nil {
			return fmt.Errorf("http listener settings: %w", err)
		}

		modules := make([]HTTPModule, 0, len(factories))
		hooks := make([]any, 0, len(factories))
		for _, factory := range factories {
			if factory == nil {
				return errors.New("nil http module factory")
			}
			module, err := factory(ms.deps)
			if err != nil {
				return fmt.Errorf("building http module: %w", err)
			}
			if module == nil {
				return errors.New("http module factory returned nil module")
			}
			modules = append(modules, module)
			hooks = append(hooks, module)
		}

		logger := ms.deps.Logger.With("listener", "http")
		build := func(ctx context.Context, env *Environment) (*Components, error) {
			acceptor, err := Listen(settings.Port)
			if err != nil {
				return nil, err
			}
			if env != nil {
				if err := env.OnDestroy("http acceptor", acceptor.Close); err != nil {
					acceptor.Stop()
					return nil, err
				}
			}
			router := ms.newRouter(RunIDFrom(ctx), modules)
			dispatcher := NewHTTPDispatcher(router, acceptor.Addr(), logger)
			unit := NewServer(acceptor, dispatcher,
				WithPollInterval(settings.PollInterval),
				WithServerLogger(logger),
				WithServerEnvironment(env),
			)
			return &Components{Unit: unit, Acceptor: acceptor, Dispatcher: dispatcher}, nil
		}

		supOpts = append(supOpts,
			WithSupervisorLogger(ms.deps.Logger),
			WithSupervisorErrorReporter(ms.deps.Errors),
			WithSupervisorMetrics(ms.deps.Metrics),
			WithHooks(hooks...),
		)
		ms.runners = append(ms.runners, NewSupervisor("http", build, supOpts...))
		return nil
	}
}

// newRouter assembles middlewares, health and debug endpoints and module
// routes for one run. Readiness includes every supervised runner of the Micro.
func (micro *Micro) newRouter(runID string, modules []HTTPModule) *chi.Mux {
	micro.mu.RLock()
	middlewares := slices.Clone(micro.httpMiddlewares)
	configurers := slices.Clone(micro.routerConfig)
	checks := slices.Clone(micro.healthChecks)
	runners := slices.Clone(micro.runners)
	debugRoutes := micro.debugRoutes
	logger := micro.deps.Logger
	metrics := micro.deps.Metrics
	micro.mu.RUnlock()

	router := chi.NewRouter()
	router.Use(RequestIDMiddleware, RunIDMiddleware(runID), chimiddleware.Recoverer, NewRequestLogger(logger), NewMetricsMiddleware(metrics))
	for _, mw := range middlewares {
		if mw != nil {
			router.Use(mw)
		}
	}
	for _, configurer := range configurers {
		if configurer != nil {
			configurer(router)
		}
	}

	registry := NewHealthRegistry()
	RegisterHealthEndpoints(router, registry)
	registry.RegisterLiveness("core", HealthStatusOK)
	registry.RegisterReadiness("core", HealthStatusOK)
	for _, reg := range checks {
		registry.RegisterLiveness(reg.name, reg.liveness)
		registry.RegisterReadiness(reg.name, reg.readiness)
	}
	for _, r := range runners {
		if reporter, ok := r.(HealthReporter); ok {
			registry.RegisterChecks(reporter.HealthChecks())
		}
	}

	for _, module := range modules {
		module.RegisterRoutes(router)
		if reporter, ok := module.(HealthReporter); ok {
			registry.RegisterChecks(reporter.HealthChecks())
		}
	}
	RegisterDebugRoutes(router, debugRoutes)
	return router
}
