package supervise

// Deps aggregates cross-cutting concerns shared across listeners and modules.
type Deps struct {
	Logger  Logger
	Config  *Config
	Errors  ErrorReporter
	Metrics Metrics
}

// DefaultDeps returns a container with no-op error reporting and metrics. Logger and
// Config must be supplied by the caller.
func DefaultDeps() *Deps {
	return &Deps{
		Errors:  NoopErrorReporter{},
		Metrics: NoopMetrics{},
	}
}
