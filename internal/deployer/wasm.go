package deployer

import (
	"bytes"
	"fmt"
)

// WASM module framing.
var (
	wasmMagic   = []byte{0x00, 0x61, 0x73, 0x6D}
	wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}
)

// minWasmSize is the smallest byte string that can carry magic and version.
const minWasmSize = 8

// sectionScanWindow bounds how far into the module the section sanity check
// looks.
const sectionScanWindow = 100

// ValidateWasm rejects byte strings that cannot be a WASM module: too short,
// wrong magic, wrong version, or no plausible section marker near the start.
func ValidateWasm(wasm []byte) error {
	if len(wasm) < minWasmSize {
		return fmt.Errorf("%w: %d bytes is below the %d byte minimum", ErrInvalidWasm, len(wasm), minWasmSize)
	}
	if !bytes.Equal(wasm[0:4], wasmMagic) {
		return fmt.Errorf("%w: bad magic % X", ErrInvalidWasm, wasm[0:4])
	}
	if !bytes.Equal(wasm[4:8], wasmVersion) {
		return fmt.Errorf("%w: unsupported version % X", ErrInvalidWasm, wasm[4:8])
	}

	window := len(wasm)
	if window > sectionScanWindow {
		window = sectionScanWindow
	}
	for _, b := range wasm[8:window] {
		if b <= 11 {
			return nil
		}
	}
	return fmt.Errorf("%w: no section marker in the first %d bytes", ErrInvalidWasm, sectionScanWindow)
}
