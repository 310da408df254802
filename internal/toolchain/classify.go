// Package toolchain provides the shared plumbing for invoking external
// build and deploy tools: workspace materialization, line-streamed
// subprocess execution and keyword classification of tool output.
package toolchain

import (
	"strings"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// ClassifyLine maps one line of tool output to a log kind by keyword.
// User-provided strings containing the keywords will be misclassified; that
// matches the upstream toolchains' own behavior and is accepted.
func ClassifyLine(line string) models.LogKind {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "failed"):
		return models.LogKindError
	case strings.Contains(lower, "warning"):
		return models.LogKindWarning
	case strings.Contains(lower, "success") || strings.Contains(lower, "deployed") ||
		strings.Contains(lower, "✅"):
		return models.LogKindSuccess
	case strings.Contains(lower, "compiling") || strings.Contains(lower, "building") ||
		strings.Contains(lower, "finished") || strings.Contains(lower, "downloading"):
		return models.LogKindInfo
	default:
		return models.LogKindInfo
	}
}
