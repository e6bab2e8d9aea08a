// Package engine runs the compiled game engine on wazero.
//
// WazeroEngine implements bridge.Engine for a WebAssembly core module:
//
//	WazeroEngine.Initialize  fetch, validate, compile, link, instantiate
//	WazeroEngine.Start       call the start export once
//	Instance                 the handle; Close releases the module
//
// # Initialization Flow
//
//  1. The binary is read from its source.Source (file, http, or memory)
//  2. The preamble is checked; component binaries are rejected
//  3. wazero compiles the module
//  4. Host modules the binary imports are instantiated once per runtime:
//     the "wtd" host module and, when imported, WASI preview1
//  5. The module is instantiated without running start functions
//
// Every failure in these steps is an errors.KindLoad error tagged with
// its stage.
//
// # Host Module
//
// The guest may import from "wtd":
//
//	log(ptr, len i32)           message to the host logger
//	anchor(ptr, len i32) -> i32 1 when the named anchor (e.g. "canvas") exists
//	fail(ptr, len i32)          reason start cannot proceed
//
// A reason passed to fail during Start turns into an errors.KindStart error,
// as do traps, a missing start export, and a non-zero i32 status.
//
// # Thread Safety
//
// WazeroEngine is safe for concurrent use. Instance is not; the bridge is
// its only owner.
package engine
