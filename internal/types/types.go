// Package types defines the shared payload and result shapes that cross
// component boundaries: queue payloads, runner results and bus events.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/wasmforge/wasmforge/internal/db/models"
)

// Network selects the chain a deploy targets.
type Network string

// Network constants
const (
	// NetworkTestnet is the test network
	NetworkTestnet Network = "testnet"
	// NetworkMainnet is the main network
	NetworkMainnet Network = "mainnet"
)

// ParseNetwork converts a string to a Network
func ParseNetwork(str string) (Network, error) {
	switch str {
	case string(NetworkTestnet):
		return NetworkTestnet, nil
	case string(NetworkMainnet):
		return NetworkMainnet, nil
	default:
		return "", fmt.Errorf("invalid network: %s", str)
	}
}

// CompileBackend identifies which backend produced a compile result.
type CompileBackend string

// Compile backend constants
const (
	// BackendNative is the host toolchain
	BackendNative CompileBackend = "native"
	// BackendContainer is the containerized toolchain
	BackendContainer CompileBackend = "container"
	// BackendStub is the synthetic fallback used when no toolchain is available
	BackendStub CompileBackend = "stub"
)

// SourceFile is one file of a submitted source tree.
type SourceFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CompileResult is the payload recorded on a completed compile job.
type CompileResult struct {
	WasmBase64   string         `json:"wasm_base64"`
	WasmFilename string         `json:"wasm_filename"`
	BackendUsed  CompileBackend `json:"backend_used"`
}

// DeployResult is the payload recorded on a completed deploy job.
type DeployResult struct {
	ContractID     string  `json:"contract_id"`
	Network        Network `json:"network"`
	SignerIdentity string  `json:"signer_identity"`
	SignerAddress  string  `json:"signer_address,omitempty"`
}

// CompilePayload is the queue payload for a compile job.
type CompilePayload struct {
	ProjectID string       `json:"project_id"`
	Files     []SourceFile `json:"files"`
	JobID     string       `json:"job_id"`
	UserID    uint         `json:"user_id"`
}

// DeployPayload is the queue payload for a deploy job.
type DeployPayload struct {
	ProjectID  string          `json:"project_id"`
	WasmBase64 string          `json:"wasm_base64"`
	Network    Network         `json:"network"`
	JobID      string          `json:"job_id"`
	UserID     uint            `json:"user_id"`
	WalletInfo json.RawMessage `json:"wallet_info,omitempty"`
}

// LogEvent is the bus envelope on job:log:{id} channels.
type LogEvent struct {
	JobID string           `json:"job_id"`
	Log   models.LogRecord `json:"log"`
}

// StatusEvent is the bus envelope on job:status:{id} channels.
type StatusEvent struct {
	JobID  string           `json:"job_id"`
	Status models.JobStatus `json:"status"`
	Result json.RawMessage  `json:"result,omitempty"`
}

// EmitLog is the incremental log callback handed to runners. Implementations
// must be safe to call from the goroutines that pump subprocess stdio.
type EmitLog func(record models.LogRecord)
