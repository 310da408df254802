package deployer

import (
	"regexp"
	"strings"
)

// The deploy CLI has emitted the contract id in several shapes across
// versions; each heuristic below matches one of them, first match wins.
var (
	contractIDLabelRe = regexp.MustCompile(`Contract ID:\s*(C[A-Z0-9]{50,})`)
	contractIDKeyRe   = regexp.MustCompile(`id:\s*(C[A-Z0-9]+)`)
	contractIDJSONRe  = regexp.MustCompile(`"id"\s*:\s*"(C[A-Z0-9]+)"`)
	wasmHashRe        = regexp.MustCompile(`\b([0-9a-f]{64})\b`)
)

// minContractIDLength filters out C-prefixed words that are not contract
// addresses.
const minContractIDLength = 51

// ExtractContractID pulls the network-assigned contract address out of the
// deploy CLI output. Returns an empty string when no heuristic matches.
func ExtractContractID(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "C") && len(trimmed) >= minContractIDLength && isContractToken(trimmed) {
			return trimmed
		}
	}

	if m := contractIDLabelRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := contractIDKeyRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	if m := contractIDJSONRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

// isContractToken reports whether s is entirely base32-uppercase.
func isContractToken(s string) bool {
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

// ExtractWasmHash pulls a 64-char lowercase hex hash out of upload output.
// Returns an empty string when none is present.
func ExtractWasmHash(output string) string {
	if m := wasmHashRe.FindStringSubmatch(output); m != nil {
		return m[1]
	}
	return ""
}

// IsWasmHash reports whether s is a well-formed wasm hash.
func IsWasmHash(s string) bool {
	return len(s) == 64 && wasmHashRe.MatchString(s)
}
