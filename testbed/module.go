// Package testbed builds small WebAssembly core modules that stand in for the
// real engine binary in tests.
package testbed

// ValType is a core value type.
type ValType byte

const (
	I32 ValType = 0x7F
	I64 ValType = 0x7E
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionMemory   = 5
	sectionExport   = 7
	sectionCode     = 10
	sectionData     = 11

	kindFunc   = 0x00
	kindMemory = 0x02
)

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is an imported host function.
type Import struct {
	Type   FuncType
	Module string
	Name   string
}

// Func is a defined function. Export is empty for internal functions.
// Body holds instructions without the trailing end opcode.
type Func struct {
	Export string
	Type   FuncType
	Body   []byte
}

// Data is an active data segment in memory 0.
type Data struct {
	Bytes  []byte
	Offset uint32
}

// Module describes a core module. Imported functions take indices
// 0..len(Imports)-1; defined functions follow.
type Module struct {
	Imports      []Import
	Funcs        []Func
	Data         []Data
	MemoryPages  uint32
	ExportMemory bool
}

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := &writer{}

	w.bytes(0x00, 0x61, 0x73, 0x6D)
	w.bytes(0x01, 0x00, 0x00, 0x00)

	types := make([]FuncType, 0, len(m.Imports)+len(m.Funcs))
	for _, imp := range m.Imports {
		types = append(types, imp.Type)
	}
	for _, fn := range m.Funcs {
		types = append(types, fn.Type)
	}

	if len(types) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(types)))
		for _, ft := range types {
			sec.bytes(0x60)
			sec.valTypes(ft.Params)
			sec.valTypes(ft.Results)
		}
		w.section(sectionType, sec)
	}

	if len(m.Imports) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Imports)))
		for i, imp := range m.Imports {
			sec.name(imp.Module)
			sec.name(imp.Name)
			sec.bytes(kindFunc)
			sec.u32(uint32(i))
		}
		w.section(sectionImport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Funcs)))
		for i := range m.Funcs {
			sec.u32(uint32(len(m.Imports) + i))
		}
		w.section(sectionFunction, sec)
	}

	if m.MemoryPages > 0 {
		sec := &writer{}
		sec.u32(1)
		sec.bytes(0x00)
		sec.u32(m.MemoryPages)
		w.section(sectionMemory, sec)
	}

	var exports int
	for _, fn := range m.Funcs {
		if fn.Export != "" {
			exports++
		}
	}
	if m.ExportMemory && m.MemoryPages > 0 {
		exports++
	}
	if exports > 0 {
		sec := &writer{}
		sec.u32(uint32(exports))
		for i, fn := range m.Funcs {
			if fn.Export == "" {
				continue
			}
			sec.name(fn.Export)
			sec.bytes(kindFunc)
			sec.u32(uint32(len(m.Imports) + i))
		}
		if m.ExportMemory && m.MemoryPages > 0 {
			sec.name("memory")
			sec.bytes(kindMemory)
			sec.u32(0)
		}
		w.section(sectionExport, sec)
	}

	if len(m.Funcs) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Funcs)))
		for _, fn := range m.Funcs {
			body := &writer{}
			body.u32(0) // no locals
			body.bytes(fn.Body...)
			body.bytes(opEnd)
			sec.u32(uint32(len(body.buf)))
			sec.bytes(body.buf...)
		}
		w.section(sectionCode, sec)
	}

	if len(m.Data) > 0 {
		sec := &writer{}
		sec.u32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.bytes(0x00)
			sec.bytes(I32Const(int32(d.Offset))...)
			sec.bytes(opEnd)
			sec.u32(uint32(len(d.Bytes)))
			sec.bytes(d.Bytes...)
		}
		w.section(sectionData, sec)
	}

	return w.buf
}

type writer struct {
	buf []byte
}

func (w *writer) bytes(b ...byte) {
	w.buf = append(w.buf, b...)
}

func (w *writer) u32(v uint32) {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		w.buf = append(w.buf, b)
		if v == 0 {
			return
		}
	}
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) valTypes(vts []ValType) {
	w.u32(uint32(len(vts)))
	for _, vt := range vts {
		w.buf = append(w.buf, byte(vt))
	}
}

func (w *writer) section(id byte, content *writer) {
	w.bytes(id)
	w.u32(uint32(len(content.buf)))
	w.bytes(content.buf...)
}
