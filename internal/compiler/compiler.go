// Package compiler builds submitted source trees into WASM artifacts. It
// orchestrates an external toolchain rather than compiling anything itself:
// the backend is picked by capability probe at each call, preferring the
// native toolchain, then a containerized one, then a synthetic stub.
package compiler

import (
	"context"
	"errors"
	"fmt"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/logger"
	"github.com/wasmforge/wasmforge/internal/toolchain"
	"github.com/wasmforge/wasmforge/internal/types"
)

// Sentinel errors. The names surface verbatim in job error strings.
var (
	// ErrToolchainMissing means no usable backend was found
	ErrToolchainMissing = errors.New("ToolchainMissing")
	// ErrCompilerFailed means the toolchain exited nonzero
	ErrCompilerFailed = errors.New("CompilerFailed")
	// ErrNoArtifact means the toolchain exited zero but produced no WASM
	ErrNoArtifact = errors.New("CompilerDidNotProduceArtifact")
)

// Toolchain binaries and targets.
const (
	cargoBinary  = "cargo"
	dockerBinary = "docker"
	wasmTarget   = "wasm32-unknown-unknown"
)

// Result carries the artifact bytes out of a compile. The bytes are opaque
// here; validation happens at deploy.
type Result struct {
	WasmBytes    []byte
	WasmFilename string
	BackendUsed  types.CompileBackend
}

// Runner executes compile jobs.
type Runner struct {
	// Image is the containerized toolchain image
	Image string
	// SharedOutDir is the fallback artifact directory for container builds
	SharedOutDir string

	// probe overrides for tests
	nativeAvailable    func() bool
	containerAvailable func() bool
}

// NewRunner creates a compile runner with default probes.
func NewRunner() *Runner {
	return &Runner{
		Image:              "wasmforge/contract-builder:latest",
		SharedOutDir:       "/tmp/wasmforge-out",
		nativeAvailable:    func() bool { return toolchain.Available(cargoBinary) },
		containerAvailable: func() bool { return toolchain.Available(dockerBinary) },
	}
}

// Compile materializes the source tree and builds it. Logs stream through
// emit as the toolchain produces them. The workspace is removed on every
// exit path.
func (r *Runner) Compile(ctx context.Context, projectID string, files []types.SourceFile, emit types.EmitLog) (*Result, error) {
	ws, err := toolchain.NewWorkspace(fmt.Sprintf("compile-%s", projectID))
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	if err := ws.Materialize(files); err != nil {
		return nil, err
	}

	switch {
	case r.nativeAvailable():
		emit(models.NewLogRecord(models.LogKindInfo, "Using native toolchain"))
		return r.compileNative(ctx, ws, emit)
	case r.containerAvailable():
		emit(models.NewLogRecord(models.LogKindInfo, "Native toolchain unavailable, using container"))
		return r.compileContainer(ctx, ws, emit)
	default:
		logger.Warnf("compile %s: no toolchain available, using stub backend", projectID)
		emit(models.NewLogRecord(models.LogKindWarning, "No toolchain available, using stub backend"))
		return r.compileStub(ws, emit)
	}
}
