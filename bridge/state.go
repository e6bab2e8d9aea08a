package bridge

import (
	"context"
	"time"
)

// State is the lifecycle position of a Bridge.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateRunning
	StateFailed
	// StateDetached is entered on teardown from any other state.
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateDetached:
		return "detached"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s
// other than teardown.
func (s State) Terminal() bool {
	return s == StateRunning || s == StateFailed || s == StateDetached
}

// Handle is an opaque reference to an instantiated engine.
// Handles implementing Closer are released when the bridge discards them.
type Handle any

// Closer is implemented by handles that hold releasable resources.
type Closer interface {
	Close(ctx context.Context) error
}

// Engine is the two-phase capability the bridge drives.
type Engine interface {
	// Initialize fetches and instantiates the engine binary.
	Initialize(ctx context.Context) (Handle, error)
	// Start runs the engine's start routine on h. Called at most once per handle.
	Start(ctx context.Context, h Handle) error
}

// Event describes one state transition.
type Event struct {
	Err     error
	At      time.Time
	From    State
	To      State
	Elapsed time.Duration // since OnMount; zero before the first mount
}

// Observer receives transition events and mount hook calls.
// Callbacks arrive in the order the bridge applied them, one at a time,
// and are never made while the bridge holds its lock.
type Observer interface {
	Transition(ev Event)
	Mounted(accepted bool)
}

// ObserverFunc adapts a function to Observer; mount calls are ignored.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Transition(ev Event) { f(ev) }

func (f ObserverFunc) Mounted(bool) {}

// Dispatcher schedules fn on the host's execution context.
type Dispatcher func(fn func())

func inline(fn func()) { fn() }
