package bridge

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wtd-bridge/errors"
)

type fakeHandle struct {
	closed chan struct{}
	name   string
	once   sync.Once
}

func newFakeHandle(name string) *fakeHandle {
	return &fakeHandle{name: name, closed: make(chan struct{})}
}

func (h *fakeHandle) Close(context.Context) error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

type fakeEngine struct {
	gate       chan struct{}
	handle     Handle
	initErr    error
	startErr   error
	startPanic any
	started    []Handle
	log        []string
	ctxErr     error
	returned   chan struct{}
	initCalls  int
	startCalls int
	honorCtx   bool
	mu         sync.Mutex
	retOnce    sync.Once
}

func newFakeEngine(h Handle) *fakeEngine {
	return &fakeEngine{gate: make(chan struct{}), returned: make(chan struct{}), handle: h}
}

func (e *fakeEngine) record(s string) {
	e.mu.Lock()
	e.log = append(e.log, s)
	e.mu.Unlock()
}

func (e *fakeEngine) Initialize(ctx context.Context) (Handle, error) {
	e.mu.Lock()
	e.initCalls++
	e.mu.Unlock()
	e.record("init-begin")
	defer e.retOnce.Do(func() { close(e.returned) })

	if e.honorCtx {
		select {
		case <-e.gate:
		case <-ctx.Done():
			e.mu.Lock()
			e.ctxErr = ctx.Err()
			e.mu.Unlock()
			return nil, ctx.Err()
		}
	} else {
		<-e.gate
	}

	e.record("init-end")
	if e.initErr != nil {
		return nil, e.initErr
	}
	return e.handle, nil
}

func (e *fakeEngine) Start(_ context.Context, h Handle) error {
	e.mu.Lock()
	e.startCalls++
	e.started = append(e.started, h)
	e.mu.Unlock()
	e.record("start")

	if e.startPanic != nil {
		panic(e.startPanic)
	}
	return e.startErr
}

func (e *fakeEngine) counts() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initCalls, e.startCalls
}

type recorder struct {
	events []Event
	mounts []bool
	mu     sync.Mutex
}

func (r *recorder) Transition(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Mounted(accepted bool) {
	r.mu.Lock()
	r.mounts = append(r.mounts, accepted)
	r.mu.Unlock()
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.To
	}
	return out
}

func waitTerminal(t *testing.T, b *Bridge) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, err := b.Wait(ctx)
	if stderrors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("bridge did not reach a terminal state, stuck in %s", state)
	}
	return state
}

func waitClosed(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestBridge_MountStartsOnce(t *testing.T) {
	h := newFakeHandle("H")
	eng := newFakeEngine(h)
	rec := &recorder{}
	b := New(eng, WithObserver(rec))

	if b.State() != StateUnloaded {
		t.Fatalf("initial state = %s", b.State())
	}

	b.OnMount(context.Background())
	if b.State() != StateLoading {
		t.Fatalf("state after mount = %s, want loading", b.State())
	}

	time.Sleep(10 * time.Millisecond)
	close(eng.gate)

	if got := waitTerminal(t, b); got != StateRunning {
		t.Fatalf("final state = %s, err = %v", got, b.Err())
	}

	inits, starts := eng.counts()
	if inits != 1 || starts != 1 {
		t.Errorf("initialize=%d start=%d, want 1/1", inits, starts)
	}
	if eng.started[0] != h {
		t.Error("start invoked with a different handle")
	}
	if b.Err() != nil {
		t.Errorf("unexpected error %v", b.Err())
	}

	want := []State{StateLoading, StateRunning}
	got := rec.states()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.events[1].Elapsed <= 0 {
		t.Error("running event should carry elapsed time since mount")
	}
}

func TestBridge_RepeatedMountIsNoop(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	rec := &recorder{}
	b := New(eng, WithObserver(rec))

	ctx := context.Background()
	b.OnMount(ctx)
	b.OnMount(ctx)
	close(eng.gate)
	waitTerminal(t, b)
	b.OnMount(ctx)

	inits, starts := eng.counts()
	if inits != 1 || starts != 1 {
		t.Errorf("initialize=%d start=%d, want 1/1", inits, starts)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.mounts) != 3 || !rec.mounts[0] || rec.mounts[1] || rec.mounts[2] {
		t.Errorf("mount acceptance = %v, want [true false false]", rec.mounts)
	}
}

func TestBridge_ConcurrentMounts(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	b := New(eng)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.OnMount(context.Background())
		}()
	}
	wg.Wait()
	close(eng.gate)

	if got := waitTerminal(t, b); got != StateRunning {
		t.Fatalf("final state = %s", got)
	}
	inits, starts := eng.counts()
	if inits != 1 || starts != 1 {
		t.Errorf("initialize=%d start=%d, want 1/1", inits, starts)
	}
}

func TestBridge_StartFollowsLoad(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	b := New(eng)

	b.OnMount(context.Background())
	time.Sleep(5 * time.Millisecond)
	if _, starts := eng.counts(); starts != 0 {
		t.Fatal("start invoked before load resolved")
	}
	close(eng.gate)
	waitTerminal(t, b)

	eng.mu.Lock()
	defer eng.mu.Unlock()
	want := []string{"init-begin", "init-end", "start"}
	if strings.Join(eng.log, ",") != strings.Join(want, ",") {
		t.Errorf("call order = %v, want %v", eng.log, want)
	}
}

func TestBridge_LoadFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	eng := newFakeEngine(newFakeHandle("H"))
	eng.initErr = stderrors.New("network timeout")
	b := New(eng, WithLogger(zap.New(core)))

	b.OnMount(context.Background())
	close(eng.gate)

	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	if _, starts := eng.counts(); starts != 0 {
		t.Error("start invoked after failed load")
	}

	err := b.Err()
	if !errors.IsLoad(err) {
		t.Fatalf("err = %v, want load error", err)
	}
	if !strings.Contains(err.Error(), "network timeout") {
		t.Errorf("err %q missing cause", err)
	}

	entries := logs.FilterMessage("engine load failed").All()
	if len(entries) != 1 {
		t.Fatalf("expected one load failure diagnostic, got %d", len(entries))
	}
	if !strings.Contains(entries[0].ContextMap()["error"].(string), "network timeout") {
		t.Errorf("diagnostic missing cause: %v", entries[0].ContextMap())
	}
}

func TestBridge_StartFailure(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := newFakeHandle("H")
	eng := newFakeEngine(h)
	eng.startErr = stderrors.New("missing anchor element")
	rec := &recorder{}
	b := New(eng, WithLogger(zap.New(core)), WithObserver(rec))

	b.OnMount(context.Background())
	close(eng.gate)

	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	err := b.Err()
	if !errors.IsStart(err) || !strings.Contains(err.Error(), "missing anchor element") {
		t.Errorf("err = %v, want start error with cause", err)
	}
	waitClosed(t, h.closed, "failed handle release")

	if logs.FilterMessage("engine start failed").Len() != 1 {
		t.Error("expected a start failure diagnostic")
	}
	states := rec.states()
	if states[len(states)-1] != StateFailed {
		t.Errorf("transitions = %v", states)
	}
	for _, s := range states {
		if s == StateRunning {
			t.Error("bridge passed through running on start failure")
		}
	}
}

func TestBridge_StartPanicIsContained(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	eng.startPanic = "unsupported runtime feature"
	b := New(eng)

	b.OnMount(context.Background())
	close(eng.gate)

	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	if err := b.Err(); !errors.IsStart(err) || !strings.Contains(err.Error(), "unsupported runtime feature") {
		t.Errorf("err = %v", err)
	}
}

type panicEngine struct{}

func (panicEngine) Initialize(context.Context) (Handle, error) { panic("bad binary") }
func (panicEngine) Start(context.Context, Handle) error        { return nil }

func TestBridge_InitializePanicIsContained(t *testing.T) {
	b := New(panicEngine{})
	b.OnMount(context.Background())

	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	if !errors.IsLoad(b.Err()) {
		t.Errorf("err = %v, want load error", b.Err())
	}
}

type nilHandleEngine struct{}

func (nilHandleEngine) Initialize(context.Context) (Handle, error) { return nil, nil }
func (nilHandleEngine) Start(context.Context, Handle) error        { return nil }

func TestBridge_NilHandleIsLoadError(t *testing.T) {
	b := New(nilHandleEngine{})
	b.OnMount(context.Background())

	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	if !errors.IsLoad(b.Err()) {
		t.Errorf("err = %v", b.Err())
	}
}

func TestBridge_TeardownBeforeResolution(t *testing.T) {
	h := newFakeHandle("H")
	eng := newFakeEngine(h)
	b := New(eng)

	ctx := context.Background()
	b.OnMount(ctx)
	if err := b.OnDestroy(ctx); err != nil {
		t.Fatalf("OnDestroy: %v", err)
	}
	if b.State() != StateDetached {
		t.Fatalf("state after destroy = %s", b.State())
	}

	close(eng.gate)
	waitClosed(t, h.closed, "late handle release")

	if _, starts := eng.counts(); starts != 0 {
		t.Error("start invoked after teardown")
	}
	if b.State() != StateDetached {
		t.Errorf("late resolution changed state to %s", b.State())
	}

	b.OnMount(ctx)
	if inits, _ := eng.counts(); inits != 1 {
		t.Errorf("remount after teardown reloaded: initialize=%d", inits)
	}
}

func TestBridge_TeardownCancelsLoad(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	eng.honorCtx = true
	b := New(eng)

	b.OnMount(context.Background())
	if err := b.OnDestroy(context.Background()); err != nil {
		t.Fatalf("OnDestroy: %v", err)
	}

	waitClosed(t, eng.returned, "initialize return")

	eng.mu.Lock()
	ctxErr := eng.ctxErr
	eng.mu.Unlock()
	if !stderrors.Is(ctxErr, context.Canceled) {
		t.Errorf("initialize ctx err = %v, want context.Canceled", ctxErr)
	}
	if _, starts := eng.counts(); starts != 0 {
		t.Error("start invoked after teardown")
	}
	if got := waitTerminal(t, b); got != StateDetached {
		t.Errorf("state = %s, want detached", got)
	}
	if b.Err() != nil {
		t.Errorf("cancelled load recorded as failure: %v", b.Err())
	}
}

// teardownOnMount tears the bridge down from another goroutine while the
// accepted mount is being delivered.
type teardownOnMount struct {
	recorder
	b *Bridge
}

func (o *teardownOnMount) Mounted(accepted bool) {
	o.recorder.Mounted(accepted)
	if !accepted {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.b.OnDestroy(context.Background())
	}()
	<-done
}

func TestBridge_ObserversSeeTransitionOrder(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	obs := &teardownOnMount{}
	b := New(eng, WithObserver(obs))
	obs.b = b

	b.OnMount(context.Background())
	waitTerminal(t, b)

	got := obs.states()
	want := []State{StateLoading, StateDetached}
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("observed %v, want %v", got, want)
		}
	}
	if last := got[len(got)-1]; last != b.State() {
		t.Errorf("last observed %s, bridge is %s", last, b.State())
	}
	close(eng.gate)
}

func TestBridge_TeardownFromObserverCallback(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	rec := &recorder{}
	var b *Bridge
	b = New(eng, WithObserver(rec), WithObserver(ObserverFunc(func(ev Event) {
		if ev.To == StateLoading {
			_ = b.OnDestroy(context.Background())
		}
	})))

	b.OnMount(context.Background())
	if got := waitTerminal(t, b); got != StateDetached {
		t.Fatalf("state = %s", got)
	}
	if got := rec.states(); len(got) != 2 || got[0] != StateLoading || got[1] != StateDetached {
		t.Errorf("observed %v", got)
	}
	close(eng.gate)
}

func TestBridge_TeardownReleasesRunningEngine(t *testing.T) {
	h := newFakeHandle("H")
	eng := newFakeEngine(h)
	b := New(eng)

	ctx := context.Background()
	b.OnMount(ctx)
	close(eng.gate)
	waitTerminal(t, b)

	if err := b.OnDestroy(ctx); err != nil {
		t.Fatalf("OnDestroy: %v", err)
	}
	waitClosed(t, h.closed, "running handle release")
	if err := b.OnDestroy(ctx); err != nil {
		t.Errorf("second OnDestroy: %v", err)
	}
}

func TestBridge_LoadTimeout(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	eng.honorCtx = true
	b := New(eng, WithLoadTimeout(20*time.Millisecond))

	b.OnMount(context.Background())
	if got := waitTerminal(t, b); got != StateFailed {
		t.Fatalf("final state = %s", got)
	}
	if err := b.Err(); !errors.IsLoad(err) || !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want load error wrapping deadline", err)
	}
}

func TestBridge_DispatcherOwnsContinuation(t *testing.T) {
	queue := make(chan func(), 1)
	eng := newFakeEngine(newFakeHandle("H"))
	b := New(eng, WithDispatcher(func(fn func()) { queue <- fn }))

	b.OnMount(context.Background())
	close(eng.gate)

	var cont func()
	select {
	case cont = <-queue:
	case <-time.After(5 * time.Second):
		t.Fatal("continuation never dispatched")
	}

	if _, starts := eng.counts(); starts != 0 {
		t.Fatal("start ran before the host executed the continuation")
	}
	if b.State() != StateLoading {
		t.Fatalf("state before continuation = %s", b.State())
	}

	cont()
	if b.State() != StateRunning {
		t.Errorf("state after continuation = %s", b.State())
	}
}

func TestBridge_ObserverMayQueryBridge(t *testing.T) {
	eng := newFakeEngine(newFakeHandle("H"))
	var b *Bridge
	seen := make(chan State, 4)
	b = New(eng, WithObserver(ObserverFunc(func(ev Event) {
		seen <- b.State()
	})))

	b.OnMount(context.Background())
	close(eng.gate)
	waitTerminal(t, b)

	if got := <-seen; got != StateLoading {
		t.Errorf("first observed state = %s", got)
	}
	if got := <-seen; got != StateRunning {
		t.Errorf("second observed state = %s", got)
	}
}

func TestBridge_WaitHonorsContext(t *testing.T) {
	b := New(newFakeEngine(newFakeHandle("H")))
	b.OnMount(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	state, err := b.Wait(ctx)
	if !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
	if state != StateLoading {
		t.Errorf("state = %s", state)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUnloaded: "unloaded",
		StateLoading:  "loading",
		StateRunning:  "running",
		StateFailed:   "failed",
		StateDetached: "detached",
		State(42):     "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
	if StateLoading.Terminal() || StateUnloaded.Terminal() {
		t.Error("loading and unloaded are not terminal")
	}
}
