// Package bridge mounts a compiled engine module into a host and starts it.
//
// A Bridge owns the one-shot sequence "load engine, then start engine":
//
//	b := bridge.New(eng, bridge.WithLogger(log))
//	b.OnMount(ctx)          // returns immediately
//	state, err := b.Wait(ctx)
//	defer b.OnDestroy(ctx)
//
// # States
//
//	Unloaded ──OnMount──▶ Loading ──start ok──▶ Running
//	                         │
//	                         └──load or start error──▶ Failed
//
// Any state moves to Detached on OnDestroy. Running, Failed and Detached
// are terminal; there is no retry.
//
// # Guarantees
//
// The engine's Initialize runs at most once per Bridge, however many times
// the host fires its mount hook. Start runs at most once, only after a
// successful Initialize, and never after teardown: a load that resolves
// late is released without being started.
//
// Failures never reach the host as panics or returned errors. They are
// logged, delivered to observers and kept for Err.
//
// # Scheduling
//
// OnMount runs Initialize on its own goroutine. The continuation runs on
// that goroutine unless WithDispatcher hands it to the host's event loop.
package bridge
