package runners

import (
	"fmt"

	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
)

// simulatedAdapter is the shared implementation behind the built-in
// adapters: a deterministic dry-run that records what would be executed
// without invoking a real coding agent.
type simulatedAdapter struct {
	runnerID string
}

func newSimulatedAdapter(runnerID string) *simulatedAdapter {
	return &simulatedAdapter{runnerID: runnerID}
}

func (a *simulatedAdapter) ID() string {
	return a.runnerID
}

func (a *simulatedAdapter) Prepare(p *packet.Packet, plan *router.RoutePlan, step router.StepAssignment) (RunSpec, error) {
	if step.Runner != a.runnerID {
		return RunSpec{}, fmt.Errorf("adapter %s asked to prepare step assigned to %s", a.runnerID, step.Runner)
	}
	return RunSpec{
		RunnerID:   a.runnerID,
		Step:       step.Step,
		ModelID:    step.Model,
		PacketPath: p.Path,
		RunDir:     plan.RunDir,
	}, nil
}

func (a *simulatedAdapter) Run(spec RunSpec) (RawResult, error) {
	return RawResult{
		Status:   "ok",
		RunnerID: spec.RunnerID,
		Step:     spec.Step,
		ModelID:  spec.ModelID,
		Outputs:  []string{},
	}, nil
}

func (a *simulatedAdapter) Normalize(raw RawResult) Fragment {
	return Fragment{
		Step:    raw.Step,
		Runner:  raw.RunnerID,
		Model:   raw.ModelID,
		Status:  raw.Status,
		Outputs: raw.Outputs,
	}
}
