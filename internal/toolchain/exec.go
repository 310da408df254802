package toolchain

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/types"
)

// stderrSummaryLimit caps the stderr excerpt carried on a failure error.
const stderrSummaryLimit = 2048

// Available reports whether a binary can be found on PATH.
func Available(binary string) bool {
	_, err := exec.LookPath(binary)
	return err == nil
}

// StreamCommand runs a command, classifying and emitting every stdout and
// stderr line as it arrives. It returns the collected stderr tail for error
// summaries. Line order within each stream is preserved; interleaving
// between the two streams follows arrival.
func StreamCommand(ctx context.Context, cmd *exec.Cmd, emit types.EmitLog) (string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("SpawnError: %w", err)
	}

	var stderrTail bytes.Buffer
	var mu sync.Mutex
	var wg sync.WaitGroup

	scan := func(r *bufio.Scanner, isStderr bool) {
		defer wg.Done()
		for r.Scan() {
			line := strings.TrimRight(r.Text(), "\r\n")
			if line == "" {
				continue
			}
			if isStderr {
				mu.Lock()
				if stderrTail.Len() < stderrSummaryLimit {
					stderrTail.WriteString(line)
					stderrTail.WriteString("\n")
				}
				mu.Unlock()
			}
			emit(models.NewLogRecord(ClassifyLine(line), line))
		}
	}

	wg.Add(2)
	go scan(bufio.NewScanner(stdout), false)
	go scan(bufio.NewScanner(stderr), true)
	wg.Wait()

	waitErr := cmd.Wait()
	summary := strings.TrimSpace(stderrTail.String())

	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	return summary, waitErr
}
