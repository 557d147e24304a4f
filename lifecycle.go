package supervise

import (
	"context"
	"errors"
	"fmt"
)

type Startable interface {
	Start(context.Context) error
}

type Stoppable interface {
	Stop(context.Context) error
}

// LifecycleHooks adapts plain functions to the Startable/Stoppable interfaces so
// callers can wire arbitrary logic into a worker run.
type LifecycleHooks struct {
	OnStart func(context.Context) error
	OnStop  func(context.Context) error
}

func (h LifecycleHooks) Start(ctx context.Context) error {
	if h.OnStart == nil {
		return nil
	}
	return h.OnStart(ctx)
}

func (h LifecycleHooks) Stop(ctx context.Context) error {
	if h.OnStop == nil {
		return nil
	}
	return h.OnStop(ctx)
}

// collectHooks splits components into paired start/stop funcs. A component
// implementing only one side gets a no-op for the other so rollback indexes
// line up.
func collectHooks(components []any) (starts, stops []func(context.Context) error) {
	noop := func(context.Context) error { return nil }
	for _, c := range components {
		startable, canStart := c.(Startable)
		stoppable, canStop := c.(Stoppable)
		if !canStart && !canStop {
			continue
		}
		start, stop := noop, noop
		if canStart {
			start = startable.Start
		}
		if canStop {
			stop = stoppable.Stop
		}
		starts = append(starts, start)
		stops = append(stops, stop)
	}
	return starts, stops
}

// Start runs starts in order. When one fails, the already started components
// are stopped in reverse order and the start error is returned.
func Start(ctx context.Context, logger Logger, starts []func(context.Context) error, stops []func(context.Context) error) error {
	if logger == nil {
		logger = NewNoopLogger()
	}
	for i, start := range starts {
		if err := start(ctx); err != nil {
			logger.Error("component start failed", "index", i, "error", err)
			rollbackCtx := context.WithoutCancel(ctx)
			for j := i - 1; j >= 0 && j < len(stops); j-- {
				if stopErr := stops[j](rollbackCtx); stopErr != nil {
					logger.Error("component rollback failed", "index", j, "error", stopErr)
				}
			}
			return err
		}
	}
	return nil
}

// stopHooks runs stops in reverse order and aggregates their errors.
func stopHooks(ctx context.Context, stops []func(context.Context) error) error {
	var err error
	for i := len(stops) - 1; i >= 0; i-- {
		if stopErr := stops[i](ctx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("lifecycle stop: %w", stopErr))
		}
	}
	return err
}
