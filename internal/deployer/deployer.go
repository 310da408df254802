// Package deployer publishes validated WASM artifacts on chain through the
// external deploy CLI. Like the compiler it orchestrates a toolchain rather
// than implementing chain logic itself.
package deployer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/wasmforge/wasmforge/internal/config"
	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/toolchain"
	"github.com/wasmforge/wasmforge/internal/types"
)

// Sentinel errors. The names surface verbatim in job error strings.
var (
	// ErrToolchainMissing means the deploy CLI is not on PATH
	ErrToolchainMissing = errors.New("ToolchainMissing")
	// ErrInvalidWasm means validation rejected the artifact bytes
	ErrInvalidWasm = errors.New("InvalidWasm")
	// ErrDeployFailed means the deploy CLI exited nonzero
	ErrDeployFailed = errors.New("DeployFailed")
	// ErrContractIDNotFound means the CLI output held no contract id
	ErrContractIDNotFound = errors.New("ContractIdNotFound")
)

const (
	deployBinary = "stellar"

	// DefaultIdentity is the singleton signing identity name. It is
	// addressed by name at each invocation; the CLI serializes signing, so
	// concurrent deploys on one worker may share it.
	DefaultIdentity = "wasmforge-deployer"
)

// Runner executes deploy jobs.
type Runner struct {
	// Identity is the signing identity name
	Identity string
	// HorizonURL is the Horizon endpoint used for friendbot funding on
	// testnet when the CLI's own funding path fails
	HorizonURL string

	// cliAvailable is a probe override for tests
	cliAvailable func() bool
	// runCLI runs a short CLI call and returns combined output; override
	// for tests
	runCLI func(ctx context.Context, args ...string) (string, error)
	// streamCLI runs a long CLI call, emitting each output line as it
	// arrives, and returns the stderr summary; override for tests
	streamCLI func(ctx context.Context, emit types.EmitLog, args ...string) (string, error)

	httpClient *http.Client
}

// NewRunner creates a deploy runner with default probes.
func NewRunner() *Runner {
	r := &Runner{
		Identity:     DefaultIdentity,
		HorizonURL:   config.HorizonURL(),
		cliAvailable: func() bool { return toolchain.Available(deployBinary) },
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	r.runCLI = r.execCLI
	r.streamCLI = r.execStreamCLI
	return r
}

func (r *Runner) execCLI(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, deployBinary, args...).CombinedOutput()
	return string(out), err
}

func (r *Runner) execStreamCLI(ctx context.Context, emit types.EmitLog, args ...string) (string, error) {
	return toolchain.StreamCommand(ctx, exec.CommandContext(ctx, deployBinary, args...), emit)
}

// Deploy validates the artifact, ensures the signing identity, invokes the
// deploy CLI and extracts the contract id. The deploy invocation is the
// long-running step, so its output streams through emit line by line; the
// ephemeral directory is removed on every exit path.
func (r *Runner) Deploy(ctx context.Context, projectID string, wasm []byte, network types.Network, emit types.EmitLog) (*types.DeployResult, error) {
	if !r.cliAvailable() {
		return nil, fmt.Errorf("%w: %s CLI not found on PATH", ErrToolchainMissing, deployBinary)
	}

	if err := ValidateWasm(wasm); err != nil {
		emit(models.NewLogRecord(models.LogKindError, err.Error()))
		return nil, err
	}
	emit(models.NewLogRecord(models.LogKindInfo,
		fmt.Sprintf("WASM validated: magic ok, version 1, %d bytes", len(wasm))))

	address, err := r.ensureIdentity(ctx, network, emit)
	if err != nil {
		return nil, err
	}

	ws, err := toolchain.NewWorkspace(fmt.Sprintf("deploy-%s", projectID))
	if err != nil {
		return nil, err
	}
	defer ws.Cleanup()

	wasmPath := ws.Path("contract.wasm")
	if err := os.WriteFile(wasmPath, wasm, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifact: %w", err)
	}
	info, err := os.Stat(wasmPath)
	if err != nil || info.Size() != int64(len(wasm)) {
		return nil, fmt.Errorf("artifact on disk does not match input length")
	}

	emit(models.NewLogRecord(models.LogKindInfo,
		fmt.Sprintf("Deploying to %s as %s", network, r.Identity)))

	// The transcript doubles as the haystack for contract-id extraction
	// once the CLI exits.
	var transcript strings.Builder
	collect := func(record models.LogRecord) {
		transcript.WriteString(record.Message)
		transcript.WriteString("\n")
		emit(record)
	}
	summary, err := r.streamCLI(ctx, collect, "contract", "deploy",
		"--wasm", wasmPath,
		"--source", r.Identity,
		"--network", string(network),
		"--alias", projectID,
	)
	if err != nil {
		if summary == "" {
			summary = transcript.String()
		}
		return nil, fmt.Errorf("%w: %s", ErrDeployFailed, summarize(summary))
	}

	contractID := ExtractContractID(transcript.String())
	if contractID == "" {
		return nil, fmt.Errorf("%w: deploy output held no contract id", ErrContractIDNotFound)
	}

	emit(models.NewLogRecord(models.LogKindSuccess,
		fmt.Sprintf("Contract deployed: %s", contractID)))

	return &types.DeployResult{
		ContractID:     contractID,
		Network:        network,
		SignerIdentity: r.Identity,
		SignerAddress:  address,
	}, nil
}

// ensureIdentity creates the signing identity if needed and returns its
// public address. Creation is idempotent: an "already exists" outcome is
// success. On testnet the identity is also funded; a funding failure falls
// back to Horizon's friendbot and is a warning when that fails too.
func (r *Runner) ensureIdentity(ctx context.Context, network types.Network, emit types.EmitLog) (string, error) {
	args := []string{"keys", "generate", r.Identity, "--network", string(network)}
	if network == types.NetworkTestnet {
		args = append(args, "--fund")
	}
	output, err := r.runCLI(ctx, args...)
	if err != nil {
		if strings.Contains(strings.ToLower(output), "already exists") {
			emit(models.NewLogRecord(models.LogKindInfo,
				fmt.Sprintf("Signing identity %s already exists", r.Identity)))
		} else {
			return "", fmt.Errorf("%w: identity setup failed: %s", ErrDeployFailed, summarize(output))
		}
	} else {
		emit(models.NewLogRecord(models.LogKindInfo,
			fmt.Sprintf("Signing identity %s ready", r.Identity)))
	}

	// The address is informative; a lookup failure leaves it empty rather
	// than failing the deploy.
	address := ""
	if out, addrErr := r.runCLI(ctx, "keys", "address", r.Identity); addrErr == nil {
		address = strings.TrimSpace(out)
	}

	if network == types.NetworkTestnet {
		if output, err := r.runCLI(ctx, "keys", "fund", r.Identity, "--network", string(network)); err != nil {
			if address != "" && r.fundViaFriendbot(ctx, address) == nil {
				emit(models.NewLogRecord(models.LogKindInfo,
					fmt.Sprintf("Account %s funded via friendbot", address)))
			} else {
				// The account may already be funded.
				emit(models.NewLogRecord(models.LogKindWarning,
					fmt.Sprintf("Funding failed (account may already be funded): %s", summarize(output))))
			}
		}
	}
	return address, nil
}

// fundViaFriendbot asks the Horizon friendbot to fund the address. Testnet
// Horizon deployments expose this endpoint; mainnet ones do not.
func (r *Runner) fundViaFriendbot(ctx context.Context, address string) error {
	endpoint := fmt.Sprintf("%s/friendbot?addr=%s",
		strings.TrimRight(r.HorizonURL, "/"), url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("friendbot returned %s", resp.Status)
	}
	return nil
}

// UploadWasm installs the artifact on chain without instantiating it and
// returns the wasm hash.
func (r *Runner) UploadWasm(ctx context.Context, wasm []byte, network types.Network) (string, error) {
	if !r.cliAvailable() {
		return "", fmt.Errorf("%w: %s CLI not found on PATH", ErrToolchainMissing, deployBinary)
	}
	if err := ValidateWasm(wasm); err != nil {
		return "", err
	}

	ws, err := toolchain.NewWorkspace("upload")
	if err != nil {
		return "", err
	}
	defer ws.Cleanup()

	wasmPath := ws.Path("contract.wasm")
	if err := os.WriteFile(wasmPath, wasm, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	output, err := r.runCLI(ctx, "contract", "upload",
		"--wasm", wasmPath,
		"--source", r.Identity,
		"--network", string(network),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDeployFailed, summarize(output))
	}

	hash := ExtractWasmHash(output)
	if hash == "" {
		return "", fmt.Errorf("%w: upload output held no wasm hash", ErrContractIDNotFound)
	}
	return hash, nil
}

// DeployByHash instantiates a previously uploaded artifact.
func (r *Runner) DeployByHash(ctx context.Context, hash, alias string, network types.Network) (string, error) {
	if !r.cliAvailable() {
		return "", fmt.Errorf("%w: %s CLI not found on PATH", ErrToolchainMissing, deployBinary)
	}
	if !IsWasmHash(hash) {
		return "", fmt.Errorf("%w: malformed wasm hash", ErrInvalidWasm)
	}

	output, err := r.runCLI(ctx, "contract", "deploy",
		"--wasm-hash", hash,
		"--source", r.Identity,
		"--network", string(network),
		"--alias", alias,
	)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrDeployFailed, summarize(output))
	}

	contractID := ExtractContractID(output)
	if contractID == "" {
		return "", fmt.Errorf("%w: deploy output held no contract id", ErrContractIDNotFound)
	}
	return contractID, nil
}

// summarize trims CLI output down to an error-message-sized excerpt.
func summarize(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > 512 {
		output = output[len(output)-512:]
	}
	return output
}
