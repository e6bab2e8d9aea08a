package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind separates the two failure classes of the engine lifecycle
type Kind string

const (
	KindLoad  Kind = "load"  // binary could not be fetched or instantiated
	KindStart Kind = "start" // instantiated engine failed in its start routine
)

// Stage indicates where in the lifecycle the error occurred
type Stage string

const (
	StageFetch       Stage = "fetch"       // reading the binary from its location
	StageValidate    Stage = "validate"    // preamble and size checks
	StageCompile     Stage = "compile"     // wazero compilation
	StageInstantiate Stage = "instantiate" // host imports and module instantiation
	StageStart       Stage = "start"       // the engine's exported start routine
)

// Sentinels for errors.Is matching by kind alone.
var (
	ErrLoad  = &Error{Kind: KindLoad}
	ErrStart = &Error{Kind: KindStart}
)

// Error is the structured error type reported by the bridge and engine
type Error struct {
	Cause    error
	Kind     Kind
	Stage    Stage
	Resource string
	Export   string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteString("] ")
	if e.Stage != "" {
		b.WriteString(string(e.Stage))
	} else {
		b.WriteString("engine")
	}

	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
	}
	if e.Export != "" {
		b.WriteString(" export ")
		b.WriteString(e.Export)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error.
// A target without a stage matches every stage of its kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Stage == "" || e.Stage == t.Stage
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(kind Kind, stage Stage) *Builder {
	return &Builder{
		err: Error{
			Kind:  kind,
			Stage: stage,
		},
	}
}

// Resource sets the binary location involved
func (b *Builder) Resource(r string) *Builder {
	b.err.Resource = r
	return b
}

// Export sets the export name involved
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Load creates a load error for the given stage
func Load(stage Stage, detail string, cause error) *Error {
	return &Error{
		Kind:   KindLoad,
		Stage:  stage,
		Detail: detail,
		Cause:  cause,
	}
}

// Start creates a start error
func Start(detail string, cause error) *Error {
	return &Error{
		Kind:   KindStart,
		Stage:  StageStart,
		Detail: detail,
		Cause:  cause,
	}
}

// ExportNotFound creates a start error for a missing entry point
func ExportNotFound(name string) *Error {
	return &Error{
		Kind:   KindStart,
		Stage:  StageStart,
		Export: name,
		Detail: "not found",
	}
}

// Unsupported creates a validation error for binaries the engine cannot run
func Unsupported(resource, what string) *Error {
	return &Error{
		Kind:     KindLoad,
		Stage:    StageValidate,
		Resource: resource,
		Detail:   what,
	}
}

// AsLoad wraps err as a load error unless it already is one.
func AsLoad(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrLoad) {
		return err
	}
	return Load(stage, "", err)
}

// AsStart wraps err as a start error unless it already is one.
func AsStart(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStart) {
		return err
	}
	return Start("", err)
}

// IsLoad reports whether err is a load error
func IsLoad(err error) bool {
	return errors.Is(err, ErrLoad)
}

// IsStart reports whether err is a start error
func IsStart(err error) bool {
	return errors.Is(err, ErrStart)
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
