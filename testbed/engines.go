package testbed

// HostModule is the import module name the engine host provides.
const HostModule = "wtd"

// Messages embedded in the Game fixture.
const (
	AnchorName     = "canvas"
	MissingAnchor  = "missing anchor element"
	StartedMessage = "walk the dog started"
)

var (
	anchorImport = Import{Module: HostModule, Name: "anchor", Type: FuncType{Params: []ValType{I32, I32}, Results: []ValType{I32}}}
	failImport   = Import{Module: HostModule, Name: "fail", Type: FuncType{Params: []ValType{I32, I32}}}
	logImport    = Import{Module: HostModule, Name: "log", Type: FuncType{Params: []ValType{I32, I32}}}
)

// Game behaves like the real engine's start routine: it looks up the canvas
// anchor, reports a failure when it is missing and logs a line otherwise.
func Game() []byte {
	const (
		anchorAt  = 0
		missingAt = 16
		startedAt = 48
	)
	m := &Module{
		Imports:      []Import{anchorImport, failImport, logImport},
		MemoryPages:  1,
		ExportMemory: true,
		Data: []Data{
			{Offset: anchorAt, Bytes: []byte(AnchorName)},
			{Offset: missingAt, Bytes: []byte(MissingAnchor)},
			{Offset: startedAt, Bytes: []byte(StartedMessage)},
		},
		Funcs: []Func{{
			Export: "start",
			Body: Ops(
				I32Const(anchorAt), I32Const(int32(len(AnchorName))), Call(0),
				IfZero(Ops(
					I32Const(missingAt), I32Const(int32(len(MissingAnchor))), Call(1),
					Return(),
				)),
				I32Const(startedAt), I32Const(int32(len(StartedMessage))), Call(2),
			),
		}},
	}
	return m.Encode()
}

// Noop exports a start routine that does nothing.
func Noop() []byte {
	m := &Module{Funcs: []Func{{Export: "start"}}}
	return m.Encode()
}

// Status exports a start routine returning code.
func Status(code int32) []byte {
	m := &Module{Funcs: []Func{{
		Export: "start",
		Type:   FuncType{Results: []ValType{I32}},
		Body:   I32Const(code),
	}}}
	return m.Encode()
}

// Trap exports a start routine that traps.
func Trap() []byte {
	m := &Module{Funcs: []Func{{Export: "start", Body: Unreachable()}}}
	return m.Encode()
}

// WithoutStart exports only a function named main.
func WithoutStart() []byte {
	m := &Module{Funcs: []Func{{Export: "main"}}}
	return m.Encode()
}

// StartWithParams exports a start routine taking an i32.
func StartWithParams() []byte {
	m := &Module{Funcs: []Func{{
		Export: "start",
		Type:   FuncType{Params: []ValType{I32}},
	}}}
	return m.Encode()
}

// Exit exports a start routine that calls WASI proc_exit with code.
func Exit(code int32) []byte {
	m := &Module{
		Imports: []Import{{Module: "wasi_snapshot_preview1", Name: "proc_exit", Type: FuncType{Params: []ValType{I32}}}},
		Funcs:   []Func{{Export: "start", Body: Ops(I32Const(code), Call(0))}},
	}
	return m.Encode()
}

// MissingImport imports a host function the engine does not provide.
func MissingImport() []byte {
	m := &Module{
		Imports: []Import{{Module: "__wbindgen_placeholder__", Name: "__wbindgen_describe", Type: FuncType{Params: []ValType{I32}}}},
		Funcs:   []Func{{Export: "start"}},
	}
	return m.Encode()
}

// ComponentPreamble is the header of a component-model binary.
func ComponentPreamble() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x0D, 0x00, 0x01, 0x00}
}
