package deployer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimalWasm is an empty module: magic, version, one empty custom section.
func minimalWasm() []byte {
	return []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00}
}

func TestValidateWasmAccepts(t *testing.T) {
	require.NoError(t, ValidateWasm(minimalWasm()))

	// A module with a type section marker further in.
	wasm := append([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}, 0x01, 0x04, 0x01)
	require.NoError(t, ValidateWasm(wasm))
}

func TestValidateWasmRejects(t *testing.T) {
	cases := []struct {
		name string
		wasm []byte
	}{
		{"empty", nil},
		{"too short", []byte{0x00, 0x61, 0x73}},
		{"bad magic", []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01, 0x00, 0x00, 0x00, 0x00}},
		{"bad version", []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00, 0x00}},
		{"no section marker", append([]byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}, 0xFF, 0xFF)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateWasm(tc.wasm)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidWasm)
		})
	}
}
