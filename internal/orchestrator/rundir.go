// Package orchestrator is the deterministic kernel that consumes route
// plans, executes or hands off packet steps, and writes the terminal
// run artifact set.
package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/taskpack/taskpack/internal/packet"
)

const (
	// EnvRunRoot overrides where run directories are created. The
	// override must have zero effect on artifact bytes, so artifacts
	// only ever embed the run id, never the run root.
	EnvRunRoot = "TP_RUN_ROOT"

	// defaultRunRootRel is the run root under the repository, kept in
	// an ignored output directory so orchestration never touches
	// tracked git state.
	defaultRunRootRel = "out/tp_runs"

	// runIDHashLen is how much of the packet content hash goes into
	// the run id.
	runIDHashLen = 12
)

// RunID derives the stable run directory name for a packet: the task id
// plus a content-hash prefix, so the same packet always maps to the
// same run dir and a changed packet maps to a fresh one.
func RunID(p *packet.Packet) string {
	hash := p.SHA256
	if len(hash) > runIDHashLen {
		hash = hash[:runIDHashLen]
	}
	return p.TaskID + "-" + hash
}

// DefaultRunRoot resolves the run root: the TP_RUN_ROOT environment
// variable when set, otherwise out/tp_runs under the repo root.
func DefaultRunRoot(repoRoot string) string {
	if override := os.Getenv(EnvRunRoot); override != "" {
		return override
	}
	return filepath.Join(repoRoot, filepath.FromSlash(defaultRunRootRel))
}
