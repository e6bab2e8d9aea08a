// Package wtdbridge mounts the "Walk the Dog" game engine, a WebAssembly
// module, into a Go host.
//
// The host view calls the bridge mount hook once it becomes active. The bridge
// loads the engine asynchronously and, only after loading succeeds, invokes the
// engine's start routine exactly once. Load and start failures are reported
// through structured logging and never take the host down.
//
// # Architecture Overview
//
//	wtdbridge/
//	├── bridge/          Lifecycle state machine: Unloaded → Loading → Running | Failed
//	├── engine/          wazero-backed engine: load, link the "wtd" host module, start
//	├── source/          Engine binary locations: file paths, file:// and http(s):// URLs
//	├── errors/          Structured load and start errors
//	├── config/          Environment configuration
//	├── metrics/         Prometheus collector for bridge transitions
//	├── testbed/         Wasm binary builder and engine fixtures for tests
//	└── cmd/walkthedog/  Host with headless and interactive modes and a status server
//
// # Quick Start
//
//	src, err := source.Parse("assets/wtd_rust_bg.wasm", source.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.NewWazeroEngine(ctx, src, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close(ctx)
//
//	b := bridge.New(eng, bridge.WithLogger(logger))
//	b.OnMount(ctx)
//	defer b.OnDestroy(ctx)
//
//	state, err := b.Wait(ctx)
//
// # Guest Interface
//
// The engine exports a nullary start routine (default "start") and may import
// three functions from the "wtd" host module:
//
//	log(ptr, len)            write a message to the host logger
//	anchor(ptr, len) -> i32  1 if the named host anchor (e.g. "canvas") exists
//	fail(ptr, len)           report why start cannot proceed
//
// WASI preview1 imports are satisfied when the module declares them.
package wtdbridge
