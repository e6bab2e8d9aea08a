package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wtd-bridge/errors"
)

// Bridge mounts exactly one engine instance into a host.
type Bridge struct {
	mountedAt   time.Time
	engine      Engine
	handle      Handle
	err         error
	log         *zap.Logger
	dispatch    Dispatcher
	cancel      context.CancelFunc
	done        chan struct{}
	observers   []Observer
	pending     []notice
	loadTimeout time.Duration
	mu          sync.Mutex
	doneOnce    sync.Once
	state       State
	flushing    bool
}

// notice is an observer callback queued under the lock, delivered in order.
type notice struct {
	ev       Event
	mount    bool
	accepted bool
}

// New creates an unloaded bridge for engine.
func New(engine Engine, opts ...Option) *Bridge {
	b := &Bridge{
		engine:   engine,
		log:      zap.NewNop(),
		dispatch: inline,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// OnMount begins loading the engine and returns immediately.
// Calls made after the first are no-ops.
func (b *Bridge) OnMount(ctx context.Context) {
	b.mu.Lock()
	if b.state != StateUnloaded {
		state := b.state
		b.pending = append(b.pending, notice{mount: true})
		b.mu.Unlock()
		b.log.Debug("mount ignored", zap.Stringer("state", state))
		b.flush()
		return
	}

	life, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.mountedAt = time.Now()
	b.pending = append(b.pending, notice{mount: true, accepted: true})
	b.transitionLocked(StateLoading, nil)
	b.mu.Unlock()

	go b.load(life)
	b.flush()
}

// OnDestroy tears the bridge down. An in-flight load is cancelled and its
// result discarded; a running engine handle is released.
func (b *Bridge) OnDestroy(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateDetached {
		b.mu.Unlock()
		return nil
	}
	h := b.handle
	b.handle = nil
	cancel := b.cancel
	b.transitionLocked(StateDetached, nil)
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	b.flush()

	if h == nil {
		return nil
	}
	b.log.Info("releasing engine")
	return release(ctx, h)
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the retained cause of a failure, or nil.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed once the bridge reaches a terminal state and observers
// have been notified.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until a terminal state is reached or ctx is done.
func (b *Bridge) Wait(ctx context.Context) (State, error) {
	select {
	case <-b.done:
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.state, b.err
	case <-ctx.Done():
		return b.State(), ctx.Err()
	}
}

func (b *Bridge) load(life context.Context) {
	ctx, cancel := life, context.CancelFunc(func() {})
	if b.loadTimeout > 0 {
		ctx, cancel = context.WithTimeout(life, b.loadTimeout)
	}
	h, err := b.loadEngine(ctx)
	cancel()

	b.dispatch(func() { b.resume(life, h, err) })
}

// resume is the load continuation. Every transition re-checks the state,
// so a teardown that raced the load wins and the handle is released.
func (b *Bridge) resume(ctx context.Context, h Handle, loadErr error) {
	b.mu.Lock()
	if b.state != StateLoading {
		state := b.state
		b.mu.Unlock()
		b.log.Warn("discarding late engine load", zap.Stringer("state", state), zap.NamedError("load_error", loadErr))
		b.discard(h)
		return
	}
	if loadErr != nil {
		b.failLocked(loadErr)
		b.mu.Unlock()
		b.log.Error("engine load failed", zap.Error(loadErr))
		b.flush()
		return
	}
	b.mu.Unlock()

	b.log.Info("engine module loaded")
	startErr := b.startEngine(ctx, h)

	b.mu.Lock()
	if b.state != StateLoading {
		b.mu.Unlock()
		b.log.Warn("bridge torn down during engine start")
		b.discard(h)
		return
	}
	if startErr != nil {
		b.failLocked(startErr)
		b.mu.Unlock()
		b.log.Error("engine start failed", zap.Error(startErr))
		b.discard(h)
		b.flush()
		return
	}
	b.handle = h
	ev := b.transitionLocked(StateRunning, nil)
	b.mu.Unlock()

	b.log.Info("engine started", zap.Duration("elapsed", ev.Elapsed))
	b.flush()
}

func (b *Bridge) loadEngine(ctx context.Context) (h Handle, err error) {
	defer func() {
		if r := recover(); r != nil {
			h = nil
			err = errors.New(errors.KindLoad, "").Detail("initialize panicked: %v", r).Build()
		}
	}()

	h, err = b.engine.Initialize(ctx)
	if err != nil {
		if h != nil {
			b.discard(h)
		}
		return nil, errors.AsLoad("", err)
	}
	if h == nil {
		return nil, errors.Load("", "engine returned no handle", nil)
	}
	return h, nil
}

func (b *Bridge) startEngine(ctx context.Context, h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Start(fmt.Sprintf("start panicked: %v", r), nil)
		}
	}()
	return errors.AsStart(b.engine.Start(ctx, h))
}

func (b *Bridge) failLocked(cause error) Event {
	b.err = cause
	return b.transitionLocked(StateFailed, cause)
}

// transitionLocked applies a transition and queues its event for observers.
func (b *Bridge) transitionLocked(to State, cause error) Event {
	ev := Event{
		From: b.state,
		To:   to,
		Err:  cause,
		At:   time.Now(),
	}
	if !b.mountedAt.IsZero() {
		ev.Elapsed = ev.At.Sub(b.mountedAt)
	}
	b.state = to
	b.pending = append(b.pending, notice{ev: ev})
	return ev
}

func (b *Bridge) discard(h Handle) {
	if h == nil {
		return
	}
	if err := release(context.Background(), h); err != nil {
		b.log.Warn("release engine handle", zap.Error(err))
	}
}

func release(ctx context.Context, h Handle) error {
	if c, ok := h.(Closer); ok {
		return c.Close(ctx)
	}
	return nil
}

// flush delivers queued notices in the order they were queued. One goroutine
// delivers at a time; a caller that finds delivery in progress leaves its
// notices to that goroutine. Done is closed once a terminal transition has
// been delivered and the queue is drained.
func (b *Bridge) flush() {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	terminal := false
	for len(b.pending) > 0 {
		n := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()
		if b.deliver(n) {
			terminal = true
		}
		b.mu.Lock()
	}
	b.flushing = false
	b.mu.Unlock()

	if terminal {
		b.doneOnce.Do(func() { close(b.done) })
	}
}

// deliver notifies observers and reports whether n was a terminal transition.
func (b *Bridge) deliver(n notice) bool {
	if n.mount {
		for _, o := range b.observers {
			o.Mounted(n.accepted)
		}
		return false
	}
	for _, o := range b.observers {
		o.Transition(n.ev)
	}
	return n.ev.To.Terminal()
}
