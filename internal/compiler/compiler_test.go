package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/types"
)

// stubOnlyRunner probes no toolchain, forcing the stub backend.
func stubOnlyRunner() *Runner {
	r := NewRunner()
	r.nativeAvailable = func() bool { return false }
	r.containerAvailable = func() bool { return false }
	return r
}

func collectLogs() (types.EmitLog, *[]models.LogRecord) {
	var records []models.LogRecord
	return func(record models.LogRecord) {
		records = append(records, record)
	}, &records
}

func validSources() []types.SourceFile {
	return []types.SourceFile{
		{Name: "Cargo.toml", Content: "[package]\nname = \"contract\"\n"},
		{Name: "src/lib.rs", Content: "pub fn hello() {}\n"},
	}
}

func TestCompileStubBackend(t *testing.T) {
	r := stubOnlyRunner()
	emit, records := collectLogs()

	result, err := r.Compile(context.Background(), "proj-1", validSources(), emit)
	require.NoError(t, err)
	assert.Equal(t, types.BackendStub, result.BackendUsed)
	assert.Equal(t, StubWasm, result.WasmBytes)
	assert.Equal(t, "contract.wasm", result.WasmFilename)

	// The stub still narrates a build and ends on a success record.
	require.NotEmpty(t, *records)
	last := (*records)[len(*records)-1]
	assert.Equal(t, models.LogKindSuccess, last.Kind)
}

func TestCompileStubRequiresManifest(t *testing.T) {
	r := stubOnlyRunner()
	emit, _ := collectLogs()

	_, err := r.Compile(context.Background(), "proj-1", []types.SourceFile{
		{Name: "src/lib.rs", Content: "pub fn hello() {}\n"},
	}, emit)
	require.ErrorIs(t, err, ErrCompilerFailed)
}

func TestCompileStubRequiresLibrarySource(t *testing.T) {
	r := stubOnlyRunner()
	emit, _ := collectLogs()

	_, err := r.Compile(context.Background(), "proj-1", []types.SourceFile{
		{Name: "Cargo.toml", Content: "[package]\nname = \"contract\"\n"},
	}, emit)
	require.ErrorIs(t, err, ErrCompilerFailed)
}

func TestCompileRejectsTraversal(t *testing.T) {
	r := stubOnlyRunner()
	emit, _ := collectLogs()

	_, err := r.Compile(context.Background(), "proj-1", []types.SourceFile{
		{Name: "../outside.rs", Content: "pub fn hello() {}\n"},
	}, emit)
	require.Error(t, err)
}
