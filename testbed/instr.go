package testbed

const (
	opUnreachable = 0x00
	opIf          = 0x04
	opEnd         = 0x0B
	opReturn      = 0x0F
	opCall        = 0x10
	opDrop        = 0x1A
	opI32Const    = 0x41
	opI32Eqz      = 0x45
	blockEmpty    = 0x40
)

// Ops concatenates instruction sequences.
func Ops(seqs ...[]byte) []byte {
	var out []byte
	for _, s := range seqs {
		out = append(out, s...)
	}
	return out
}

// I32Const encodes i32.const v.
func I32Const(v int32) []byte {
	out := []byte{opI32Const}
	for {
		b := byte(v & 0x7F)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

// Call encodes call idx.
func Call(idx uint32) []byte {
	w := &writer{}
	w.bytes(opCall)
	w.u32(idx)
	return w.buf
}

// IfZero runs body when the i32 on the stack is zero.
func IfZero(body []byte) []byte {
	return Ops([]byte{opI32Eqz, opIf, blockEmpty}, body, []byte{opEnd})
}

// Unreachable encodes a trap.
func Unreachable() []byte { return []byte{opUnreachable} }

// Drop encodes drop.
func Drop() []byte { return []byte{opDrop} }

// Return encodes return.
func Return() []byte { return []byte{opReturn} }
