// Package runners defines the three-method execution contract for
// coding-agent backends and the closed registry of adapters the kernel
// dispatches against.
package runners

import (
	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
)

// RunSpec is the deterministic execution request an adapter builds in
// Prepare and consumes in Run.
type RunSpec struct {
	RunnerID   string `json:"runner_id"`
	Step       string `json:"step"`
	ModelID    string `json:"model_id"`
	PacketPath string `json:"packet_path"`
	RunDir     string `json:"run_dir"`
}

// RawResult is the unnormalized outcome of one adapter Run call.
// Expected failures surface as Status values, not errors; errors are
// reserved for tooling faults.
type RawResult struct {
	Status   string   `json:"status"`
	RunnerID string   `json:"runner_id"`
	Step     string   `json:"step"`
	ModelID  string   `json:"model_id"`
	Outputs  []string `json:"outputs"`
}

// Fragment is the stable reporting shape one step contributes to
// RUN_REPORT.json.
type Fragment struct {
	Step    string   `json:"step"`
	Runner  string   `json:"runner"`
	Model   string   `json:"model"`
	Status  string   `json:"status"`
	Outputs []string `json:"outputs"`
}

// Adapter is the contract every runner backend implements.
type Adapter interface {
	// ID returns the runner id this adapter serves.
	ID() string
	// Prepare builds a runspec for one assigned step. Pure transform,
	// no I/O.
	Prepare(p *packet.Packet, plan *router.RoutePlan, step router.StepAssignment) (RunSpec, error)
	// Run executes a runspec. It may invoke an external process; it
	// returns an error only for tooling faults, never for expected
	// failure statuses.
	Run(spec RunSpec) (RawResult, error)
	// Normalize maps a raw result into the stable reporting shape.
	Normalize(raw RawResult) Fragment
}

// Registry maps runner ids to adapter implementations. The kernel
// resolves it once at startup; dispatch is by id lookup, never
// reflective.
type Registry map[string]Adapter

// Default returns the registry of built-in adapters.
func Default() Registry {
	return Registry{
		"claude_code":   newSimulatedAdapter("claude_code"),
		"codex_desktop": newSimulatedAdapter("codex_desktop"),
		"copilot_cli":   newSimulatedAdapter("copilot_cli"),
	}
}

// DisplayID maps internal runner ids to the command names surfaced in
// manual handoff instructions.
func DisplayID(runnerID string) string {
	switch runnerID {
	case "codex_desktop":
		return "codex-cli"
	case "claude_code":
		return "claude-code"
	case "copilot_cli":
		return "copilot-cli"
	default:
		return runnerID
	}
}
