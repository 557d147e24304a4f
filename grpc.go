package supervise

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// GRPCServiceRegistrar can register itself with a gRPC server.
type GRPCServiceRegistrar interface {
	RegisterGRPCService(server *grpc.Server)
}

// GRPCServiceFactory constructs a GRPCServiceRegistrar from the shared dependency container.
type GRPCServiceFactory func(*Deps) (GRPCServiceRegistrar, error)

// GRPCDispatcher serves admitted connections with a grpc.Server. The standard
// health service reports SERVING until the drain begins.
type GRPCDispatcher struct {
	server *grpc.Server
	health *health.Server
	ln     *connListener
	logger Logger
	served chan struct{}
}

// NewGRPCDispatcher builds a gRPC server, registers the health and reflection
// services plus the given registrars, and starts serving dispatched
// connections.
func NewGRPCDispatcher(addr net.Addr, logger Logger, registrars []GRPCServiceRegistrar, opts ...grpc.ServerOption) *GRPCDispatcher {
	if logger == nil {
		logger = NewNoopLogger()
	}
	server := grpc.NewServer(opts...)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	// Enable reflection for easier debugging with grpcurl/grpcui
	reflection.Register(server)
	for _, r := range registrars {
		r.RegisterGRPCService(server)
	}

	d := &GRPCDispatcher{
		server: server,
		health: healthServer,
		ln:     newConnListener(addr),
		logger: logger,
		served: make(chan struct{}),
	}
	go func() {
		defer close(d.served)
		if err := d.server.Serve(d.ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			d.logger.Error("grpc serve failed", "error", err)
		}
	}()
	return d
}

func (d *GRPCDispatcher) Dispatch(conn net.Conn) {
	d.ln.push(conn)
}

// Stop flips health to NOT_SERVING and waits for pending RPCs.
func (d *GRPCDispatcher) Stop() {
	d.health.Shutdown()
	d.server.GracefulStop()
	<-d.served
}

func (d *GRPCDispatcher) Abort() {
	d.server.Stop()
}

// WithGRPCServer mounts a supervised gRPC listener. It instantiates the
// provided service factories once; registration happens on every run since a
// stopped grpc.Server cannot be reused.
//
// Usage:
//
//	supervise.WithGRPCServer("grpc.port", serviceFactory1, serviceFactory2)
//
// The addrKey is used to look up the server address from config (e.g., "grpc.port" -> ":50051").
// If the config key is not found, it defaults to ":50051".
func WithGRPCServer(addrKey string, factories ...GRPCServiceFactory) Option {
	return func(ms *Micro) error {
		if addrKey == "" {
			return errors.New("grpc addr property key required")
		}

		ms.mu.Lock()
		defer ms.mu.Unlock()

		if err := ms.requireCore(); err != nil {
			return err
		}

		settings, err := ms.deps.Config.ListenerSettings(addrKey, ":50051")
		if err != nil {
			return fmt.Errorf("grpc listener settings: %w", err)
		}
		supOpts, err := settings.SupervisorOptions()
		if err != nil {
			return fmt.Errorf("grpc listener settings: %w", err)
		}

		services := make([]GRPCServiceRegistrar, 0, len(factories))
		hooks := make([]any, 0, len(factories))
		for _, factory := range factories {
			if factory == nil {
				return errors.New("nil grpc service factory")
			}
			service, err := factory(ms.deps)
			if err != nil {
				return fmt.Errorf("building grpc service: %w", err)
			}
			if service == nil {
				return errors.New("grpc service factory returned nil service")
			}
			services = append(services, service)
			hooks = append(hooks, service)
		}

		logger := ms.deps.Logger.With("listener", "grpc")
		build := func(_ context.Context, env *Environment) (*Components, error) {
			acceptor, err := Listen(settings.Port)
			if err != nil {
				return nil, err
			}
			if env != nil {
				if err := env.OnDestroy("grpc acceptor", acceptor.Close); err != nil {
					acceptor.Stop()
					return nil, err
				}
			}
			dispatcher := NewGRPCDispatcher(acceptor.Addr(), logger, services)
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
		ms.runners = append(ms.runners, NewSupervisor("grpc", build, supOpts...))
		return nil
	}
}

// WithGRPCServerModules is a convenience helper for the common case where
// services do not need to access the shared dependency container during
// construction. It wraps the provided services into factories and delegates to
// WithGRPCServer.
func WithGRPCServerModules(addrKey string, services ...GRPCServiceRegistrar) Option {
	factories := make([]GRPCServiceFactory, len(services))
	for i, svc := range services {
		service := svc
		factories[i] = func(*Deps) (GRPCServiceRegistrar, error) {
			if service == nil {
				return nil, errors.New("nil grpc service provided")
			}
			return service, nil
		}
	}
	return WithGRPCServer(addrKey, factories...)
}
