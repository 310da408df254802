package toolchain

import (
	"context"
	"os/exec"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

type recordCollector struct {
	mu      sync.Mutex
	records []models.LogRecord
}

func (c *recordCollector) emit(record models.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, record)
}

func (c *recordCollector) messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.records))
	for i, r := range c.records {
		out[i] = r.Message
	}
	return out
}

func TestStreamCommandEmitsClassifiedLines(t *testing.T) {
	collector := &recordCollector{}
	cmd := exec.Command("sh", "-c", "echo 'Compiling contract'; echo 'warning: deprecated'")

	summary, err := StreamCommand(context.Background(), cmd, collector.emit)
	require.NoError(t, err)
	assert.Empty(t, summary)

	messages := collector.messages()
	assert.Contains(t, messages, "Compiling contract")
	assert.Contains(t, messages, "warning: deprecated")
}

func TestStreamCommandCollectsStderrOnFailure(t *testing.T) {
	collector := &recordCollector{}
	cmd := exec.Command("sh", "-c", "echo progress; echo 'error: boom' 1>&2; exit 3")

	summary, err := StreamCommand(context.Background(), cmd, collector.emit)
	require.Error(t, err)
	assert.Contains(t, summary, "error: boom")

	// stderr lines are emitted too, classified as errors.
	found := false
	collector.mu.Lock()
	for _, record := range collector.records {
		if record.Message == "error: boom" && record.Kind == models.LogKindError {
			found = true
		}
	}
	collector.mu.Unlock()
	assert.True(t, found)
}

func TestStreamCommandSpawnError(t *testing.T) {
	collector := &recordCollector{}
	cmd := exec.Command("/nonexistent/binary-for-test")

	_, err := StreamCommand(context.Background(), cmd, collector.emit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SpawnError")
}

func TestAvailable(t *testing.T) {
	assert.True(t, Available("sh"))
	assert.False(t, Available("definitely-not-a-real-binary"))
}
