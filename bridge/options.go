package bridge

import (
	"time"

	"go.uber.org/zap"
)

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the diagnostic logger. Nil keeps the no-op default.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.log = l.Named("bridge")
		}
	}
}

// WithObserver adds a transition observer.
func WithObserver(o Observer) Option {
	return func(b *Bridge) {
		if o != nil {
			b.observers = append(b.observers, o)
		}
	}
}

// WithDispatcher routes the load continuation through d, so it resumes on
// the host's own execution context. By default it runs on the loader goroutine.
func WithDispatcher(d Dispatcher) Option {
	return func(b *Bridge) {
		if d != nil {
			b.dispatch = d
		}
	}
}

// WithLoadTimeout bounds Initialize. Zero means no deadline.
func WithLoadTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.loadTimeout = d
	}
}
