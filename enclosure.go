package supervise

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrEnvironmentActive   = errors.New("environment already initialised")
	ErrEnvironmentInactive = errors.New("environment not active")
)

// Environment is the set of resources whose lifetime is bound to one worker
// goroutine. It keeps object accounting for diagnostics and runs release
// hooks on Destroy.
type Environment struct {
	mu        sync.Mutex
	active    bool
	destroyed bool
	closers   []namedCloser

	count   atomic.Int64
	created atomic.Int64
}

type namedCloser struct {
	name string
	fn   func() error
}

// NewEnvironment returns an uninitialised environment.
func NewEnvironment() *Environment {
	return &Environment{}
}

// Init activates the environment. An environment is initialised at most once.
func (e *Environment) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active || e.destroyed {
		return ErrEnvironmentActive
	}
	e.active = true
	return nil
}

// Destroy runs the release hooks in reverse registration order and
// deactivates the environment.
func (e *Environment) Destroy() error {
	e.mu.Lock()
	if !e.active {
		e.mu.Unlock()
		return ErrEnvironmentInactive
	}
	e.active = false
	e.destroyed = true
	closers := e.closers
	e.closers = nil
	e.mu.Unlock()

	var err error
	for i := len(closers) - 1; i >= 0; i-- {
		if cerr := closers[i].fn(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("release %s: %w", closers[i].name, cerr))
		}
	}
	return err
}

// Active reports whether the environment is between Init and Destroy.
func (e *Environment) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Track accounts a live object. The returned release func decrements the live
// count once, however many times it is called.
func (e *Environment) Track(name string) (func(), error) {
	if !e.Active() {
		return nil, fmt.Errorf("track %s: %w", name, ErrEnvironmentInactive)
	}
	e.count.Add(1)
	e.created.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { e.count.Add(-1) })
	}, nil
}

// OnDestroy registers fn to run when the environment is destroyed.
func (e *Environment) OnDestroy(name string, fn func() error) error {
	if fn == nil {
		return errors.New("nil release hook")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.active {
		return fmt.Errorf("release hook %s: %w", name, ErrEnvironmentInactive)
	}
	e.closers = append(e.closers, namedCloser{name: name, fn: fn})
	return nil
}

// ObjectsCount returns the number of tracked objects not yet released.
func (e *Environment) ObjectsCount() int64 {
	return e.count.Load()
}

// ObjectsCreated returns the number of objects tracked since Init.
func (e *Environment) ObjectsCreated() int64 {
	return e.created.Load()
}

// Enclose runs fn between env.Init and env.Destroy on the calling goroutine.
// Destroy runs even when fn panics. A nil env runs fn without a scope.
func Enclose(env *Environment, logger Logger, fn func(*Environment) error) (err error) {
	if env == nil {
		return fn(nil)
	}
	if logger == nil {
		logger = NewNoopLogger()
	}
	if err := env.Init(); err != nil {
		return err
	}
	defer func() {
		derr := env.Destroy()
		logger.Info("environment destroyed",
			"objects_count", env.ObjectsCount(),
			"objects_created", env.ObjectsCreated(),
		)
		if derr != nil {
			err = errors.Join(err, fmt.Errorf("destroy environment: %w", derr))
		}
	}()
	return fn(env)
}
