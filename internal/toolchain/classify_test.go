package toolchain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

func TestClassifyLine(t *testing.T) {
	cases := []struct {
		line string
		want models.LogKind
	}{
		{"error[E0433]: failed to resolve", models.LogKindError},
		{"Build FAILED after 2s", models.LogKindError},
		{"warning: unused variable `x`", models.LogKindWarning},
		{"✅ Deployed!", models.LogKindSuccess},
		{"Transaction success", models.LogKindSuccess},
		{"Compiling soroban-sdk v21.0.0", models.LogKindInfo},
		{"Finished release [optimized] target(s)", models.LogKindInfo},
		{"Downloading crates ...", models.LogKindInfo},
		{"some unremarkable line", models.LogKindInfo},
		// error outranks warning when both keywords appear
		{"warning promoted to error", models.LogKindError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyLine(tc.line), "line: %s", tc.line)
	}
}
