// Package errors provides structured error types for the engine bridge.
//
// Errors are categorized by Kind (load or start) and Stage (fetch, validate,
// compile, instantiate, start). The Error type carries the binary location,
// the export involved and the cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.KindLoad, errors.StageFetch).
//		Resource("assets/wtd_rust_bg.wasm").
//		Detail("unexpected status %d", 404).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Load(errors.StageCompile, "compile module", cause)
//	err := errors.ExportNotFound("start")
//
// All errors implement the standard error interface and support errors.Is/As.
// errors.Is(err, errors.ErrLoad) matches any load error regardless of stage.
package errors
