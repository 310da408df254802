package compiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/toolchain"
	"github.com/wasmforge/wasmforge/internal/types"
)

// compileNative runs the host cargo toolchain against the materialized tree.
func (r *Runner) compileNative(ctx context.Context, ws *toolchain.Workspace, emit types.EmitLog) (*Result, error) {
	buildRoot, err := findBuildRoot(ws.Root)
	if err != nil {
		return nil, err
	}

	if err := normalizeLayout(buildRoot, emit); err != nil {
		return nil, err
	}

	// cargo races its own directory creation on some filesystems; creating
	// the target hierarchy up front avoids it.
	outDir := filepath.Join(buildRoot, "target", wasmTarget, "release")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, cargoBinary, "build", "--target", wasmTarget, "--release")
	cmd.Dir = buildRoot

	summary, err := toolchain.StreamCommand(ctx, cmd, emit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCompilerFailed, summary)
	}

	artifact, err := findWasmArtifact(filepath.Join(buildRoot, "target", wasmTarget))
	if err != nil {
		return nil, err
	}

	bytes, err := os.ReadFile(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}

	emit(models.NewLogRecord(models.LogKindSuccess,
		fmt.Sprintf("Build succeeded: %s (%d bytes)", filepath.Base(artifact), len(bytes))))

	return &Result{
		WasmBytes:    bytes,
		WasmFilename: filepath.Base(artifact),
		BackendUsed:  types.BackendNative,
	}, nil
}

// findBuildRoot locates the package to build: the workspace root when it
// declares a single package, or the first package under contracts/ when the
// top-level manifest declares a cargo workspace.
func findBuildRoot(root string) (string, error) {
	manifest := filepath.Join(root, "Cargo.toml")
	data, err := os.ReadFile(manifest)
	if err != nil {
		return "", fmt.Errorf("%w: no Cargo.toml at project root", ErrCompilerFailed)
	}

	if !strings.Contains(string(data), "[workspace]") {
		return root, nil
	}

	contractsDir := filepath.Join(root, "contracts")
	entries, err := os.ReadDir(contractsDir)
	if err != nil {
		return "", fmt.Errorf("%w: workspace manifest but no contracts/ directory", ErrCompilerFailed)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(contractsDir, entry.Name())
		if _, err := os.Stat(filepath.Join(candidate, "Cargo.toml")); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no package found under contracts/", ErrCompilerFailed)
}

// normalizeLayout fixes the common package-layout mistakes in submitted
// trees: a main.rs where a lib.rs is needed, and a missing [lib] stanza.
// Both fixes are idempotent, so a redelivered job passes through unchanged.
func normalizeLayout(buildRoot string, emit types.EmitLog) error {
	srcDir := filepath.Join(buildRoot, "src")
	mainPath := filepath.Join(srcDir, "main.rs")
	libPath := filepath.Join(srcDir, "lib.rs")

	if _, err := os.Stat(mainPath); err == nil {
		if _, err := os.Stat(libPath); os.IsNotExist(err) {
			if err := os.Rename(mainPath, libPath); err != nil {
				return fmt.Errorf("failed to rename main.rs: %w", err)
			}
			emit(models.NewLogRecord(models.LogKindInfo, "Renamed src/main.rs to src/lib.rs"))
		}
	}

	manifest := filepath.Join(buildRoot, "Cargo.toml")
	data, err := os.ReadFile(manifest)
	if err != nil {
		return fmt.Errorf("failed to read Cargo.toml: %w", err)
	}
	if !strings.Contains(string(data), "[lib]") {
		stanza := "\n[lib]\npath = \"src/lib.rs\"\ncrate-type = [\"cdylib\"]\n"
		if err := os.WriteFile(manifest, append(data, []byte(stanza)...), 0o644); err != nil {
			return fmt.Errorf("failed to update Cargo.toml: %w", err)
		}
		emit(models.NewLogRecord(models.LogKindInfo, "Added [lib] stanza to Cargo.toml"))
	}
	return nil
}

// findWasmArtifact scans the target hierarchy for the single built .wasm,
// skipping cargo's deps/ intermediates.
func findWasmArtifact(targetDir string) (string, error) {
	var artifact string
	err := filepath.Walk(targetDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".wasm" {
			return nil
		}
		if strings.Contains(path, string(filepath.Separator)+"deps"+string(filepath.Separator)) {
			return nil
		}
		artifact = path
		return filepath.SkipAll
	})
	if err != nil {
		return "", err
	}
	if artifact == "" {
		return "", ErrNoArtifact
	}
	return artifact, nil
}
