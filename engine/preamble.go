package engine

import (
	"bytes"
	"encoding/binary"
	"strconv"

	"github.com/wippyai/wtd-bridge/errors"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}

const coreVersion = 1

// validatePreamble rejects binaries that cannot be a core module before
// handing them to the compiler.
func validatePreamble(location string, data []byte) error {
	if len(data) < 8 {
		return errors.New(errors.KindLoad, errors.StageValidate).
			Resource(location).
			Detail("binary too short (%d bytes)", len(data)).
			Build()
	}
	if !bytes.Equal(data[:4], wasmMagic) {
		return errors.New(errors.KindLoad, errors.StageValidate).
			Resource(location).
			Detail("missing wasm magic, got %x", data[:4]).
			Build()
	}

	// A component's header is version 0x0d with layer 1.
	if binary.LittleEndian.Uint16(data[6:8]) == 1 {
		return errors.Unsupported(location, "component binaries are not supported")
	}
	if v := binary.LittleEndian.Uint32(data[4:8]); v != coreVersion {
		return errors.Unsupported(location, "unsupported binary version "+strconv.FormatUint(uint64(v), 10))
	}
	return nil
}
