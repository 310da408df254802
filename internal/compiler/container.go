package compiler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/toolchain"
	"github.com/wasmforge/wasmforge/internal/types"
)

// containerPollInterval is how often buffered container output is drained.
const containerPollInterval = 500 * time.Millisecond

// builderDockerfile is the image used when no pre-built builder image is
// present on the host.
const builderDockerfile = `FROM rust:1.79-slim
RUN rustup target add wasm32-unknown-unknown
WORKDIR /workspace
CMD ["cargo", "build", "--target", "wasm32-unknown-unknown", "--release"]
`

// structuredLine is the JSON record shape the builder image emits.
type structuredLine struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// compileContainer builds inside the builder image, bind-mounting the
// project and a per-job output directory.
func (r *Runner) compileContainer(ctx context.Context, ws *toolchain.Workspace, emit types.EmitLog) (*Result, error) {
	if err := r.ensureImage(ctx, emit); err != nil {
		return nil, err
	}

	outDir := ws.Path("out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, dockerBinary, "run", "--rm",
		"-v", ws.Root+":/workspace",
		"-v", outDir+":/out",
		r.Image,
	)

	if err := r.streamContainer(ctx, cmd, emit); err != nil {
		return nil, err
	}

	// The builder writes to /out; older images leave the artifact in a
	// shared host directory instead.
	artifact, err := findWasmArtifact(outDir)
	if err != nil {
		artifact, err = findWasmArtifact(r.SharedOutDir)
		if err != nil {
			return nil, ErrNoArtifact
		}
	}

	bytes, err := os.ReadFile(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	emit(models.NewLogRecord(models.LogKindSuccess,
		fmt.Sprintf("Container build succeeded: %s (%d bytes)", filepath.Base(artifact), len(bytes))))

	return &Result{
		WasmBytes:    bytes,
		WasmFilename: filepath.Base(artifact),
		BackendUsed:  types.BackendContainer,
	}, nil
}

// ensureImage verifies the builder image exists, building it when missing.
func (r *Runner) ensureImage(ctx context.Context, emit types.EmitLog) error {
	if err := exec.CommandContext(ctx, dockerBinary, "image", "inspect", r.Image).Run(); err == nil {
		return nil
	}

	emit(models.NewLogRecord(models.LogKindInfo, fmt.Sprintf("Building toolchain image %s", r.Image)))
	build := exec.CommandContext(ctx, dockerBinary, "build", "-t", r.Image, "-")
	build.Stdin = strings.NewReader(builderDockerfile)
	if out, err := build.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: image build failed: %s", ErrToolchainMissing, strings.TrimSpace(string(out)))
	}
	return nil
}

// streamContainer pumps container stdout on a fixed poll interval, parsing
// structured JSON lines when possible and keyword-classifying the rest.
func (r *Runner) streamContainer(ctx context.Context, cmd *exec.Cmd, emit types.EmitLog) error {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open container stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("SpawnError: %w", err)
	}

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	ticker := time.NewTicker(containerPollInterval)
	defer ticker.Stop()

	var pending []string
	flush := func() {
		for _, line := range pending {
			emitContainerLine(line, emit)
		}
		pending = pending[:0]
	}

	for {
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			<-lines
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				flush()
				if err := cmd.Wait(); err != nil {
					return fmt.Errorf("%w: container exited: %v", ErrCompilerFailed, err)
				}
				return nil
			}
			pending = append(pending, line)
		case <-ticker.C:
			flush()
		}
	}
}

func emitContainerLine(line string, emit types.EmitLog) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	var structured structuredLine
	if err := json.Unmarshal([]byte(line), &structured); err == nil && structured.Message != "" {
		kind := models.LogKind(structured.Kind)
		switch kind {
		case models.LogKindInfo, models.LogKindWarning, models.LogKindError,
			models.LogKindSuccess, models.LogKindDebug:
		default:
			kind = models.LogKindInfo
		}
		emit(models.NewLogRecord(kind, structured.Message))
		return
	}

	emit(models.NewLogRecord(toolchain.ClassifyLine(line), line))
}
