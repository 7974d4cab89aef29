package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/gitx"
	"github.com/taskpack/taskpack/internal/identity"
	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
	"github.com/taskpack/taskpack/internal/runners"
)

// Terminal run statuses. Every orchestration ends in exactly one.
const (
	StatusOK           = "ok"
	StatusNeedsHandoff = "needs_handoff"
	StatusRefused      = "refused"
)

// Artifact filenames written into the run directory. A run dir carries
// ROUTE_PLAN.json, exactly one of RUN_REPORT.json / REFUSAL_REPORT.json,
// and ARTIFACT_INDEX.json written last.
const (
	RoutePlanFilename     = "ROUTE_PLAN.json"
	RunReportFilename     = "RUN_REPORT.json"
	RefusalReportFilename = "REFUSAL_REPORT.json"
)

const reportSchemaVersion = "1.0"

// statusManualComplete marks a step whose completion sentinel was found
// in the run directory instead of being executed by an adapter.
const statusManualComplete = "manual_complete"

// refusalKindAvailability is the refusal raised when no availability
// declaration can be loaded. Routing without one would silently invent
// policy, so the kernel refuses instead.
const refusalKindAvailability = identity.RefusalKind("availability_unavailable")

// RunReport is the success-side terminal artifact.
type RunReport struct {
	SchemaVersion string             `json:"schema_version"`
	TaskID        string             `json:"task_id"`
	PacketSHA256  string             `json:"packet_sha256"`
	RunDir        string             `json:"run_dir"`
	Status        string             `json:"status"`
	Steps         []runners.Fragment `json:"steps"`
}

// RefusalReport is the refusal-side terminal artifact. It records the
// exact mismatch so the refusal is reproducible and auditable.
type RefusalReport struct {
	SchemaVersion     string `json:"schema_version"`
	TaskID            string `json:"task_id"`
	PacketSHA256      string `json:"packet_sha256"`
	RunDir            string `json:"run_dir"`
	Status            string `json:"status"`
	RefusalKind       string `json:"refusal_kind"`
	Reason            string `json:"reason"`
	ExpectedProjectID string `json:"expected_project_id,omitempty"`
	ObservedProjectID string `json:"observed_project_id,omitempty"`
}

// Outcome is what one orchestration produced. Expected refusals are an
// outcome, not an error; errors are reserved for tooling faults.
type Outcome struct {
	Status        string
	RunID         string
	RunDir        string
	Refusal       *identity.Refusal
	HandoffChunks []router.HandoffChunk
	Warnings      []string
}

// Kernel drives the packet lifecycle: guards, routing, execution or
// handoff, and the terminal artifact set. Zero values fall back to the
// default run root and the built-in adapter registry.
type Kernel struct {
	RepoRoot string
	RunRoot  string
	Registry runners.Registry
}

// New returns a kernel rooted at repoRoot with defaults filled in.
func New(repoRoot string) *Kernel {
	return &Kernel{
		RepoRoot: repoRoot,
		RunRoot:  DefaultRunRoot(repoRoot),
		Registry: runners.Default(),
	}
}

func (k *Kernel) runRoot() string {
	if k.RunRoot != "" {
		return k.RunRoot
	}
	return DefaultRunRoot(k.RepoRoot)
}

func (k *Kernel) registry() runners.Registry {
	if k.Registry != nil {
		return k.Registry
	}
	return runners.Default()
}

// Orchestrate runs the full lifecycle for one packet file. Given the
// same packet bytes, repo identity, and availability declaration, a
// rerun rewrites byte-identical artifacts.
func (k *Kernel) Orchestrate(packetPath string) (*Outcome, error) {
	p, err := packet.Load(packetPath)
	if err != nil {
		return nil, err
	}

	repo, err := identity.LoadRepoIdentity(k.RepoRoot)
	if err != nil {
		return nil, err
	}

	runID := RunID(p)
	runDir := filepath.Join(k.runRoot(), runID)

	runIdent, err := identity.EnsureRunIdentity(runDir, repo, k.RepoRoot)
	if err != nil {
		if refusal := asRefusal(err); refusal != nil {
			return k.refuse(p, runDir, runID, refusal)
		}
		return nil, err
	}

	if err := identity.AssertRepoPacketIdentity(repo, p.ProjectIdentity); err != nil {
		return k.refuse(p, runDir, runID, asRefusal(err))
	}
	if branch := gitx.CurrentBranch(k.RepoRoot); branch != "" {
		if err := identity.AssertRepoBranchIdentity(repo, branch); err != nil {
			return k.refuse(p, runDir, runID, asRefusal(err))
		}
	}

	var warnings []string
	if w := identity.RunIdentityOriginWarning(repo, runIdent); w != "" {
		warnings = append(warnings, w)
	}

	av, err := router.LoadAvailability(filepath.Join(k.RepoRoot, filepath.FromSlash(router.AvailabilityPath)))
	if err != nil {
		refusal := &identity.Refusal{
			Kind: refusalKindAvailability,
			Message: fmt.Sprintf(
				"ERROR: availability declaration unavailable: %v.\nRefusing to run. Create %s first (tp route init).",
				err, router.AvailabilityPath,
			),
		}
		outcome, rerr := k.refuse(p, runDir, runID, refusal)
		if rerr != nil {
			return nil, rerr
		}
		outcome.Warnings = warnings
		return outcome, nil
	}

	plan := router.BuildRoutePlan(p, av)
	plan.RunDir = runID

	handoffSteps := plan.Unassigned()
	if p.ExecutionMode == packet.ModeManual {
		handoffSteps = plan.Steps
	}

	completed := map[string]bool{}
	var chunks []router.HandoffChunk
	for _, asg := range handoffSteps {
		if sentinelPresent(runDir, asg.Step) {
			completed[asg.Step] = true
			continue
		}
		chunks = append(chunks, buildHandoffChunk(asg, packetPath, runID))
	}

	if len(chunks) > 0 {
		plan.HandoffChunks = chunks
		report := &RunReport{
			SchemaVersion: reportSchemaVersion,
			TaskID:        p.TaskID,
			PacketSHA256:  p.SHA256,
			RunDir:        runID,
			Status:        StatusNeedsHandoff,
			Steps:         []runners.Fragment{},
		}
		if err := k.writeTerminalSet(runDir, plan, report, nil); err != nil {
			return nil, err
		}
		return &Outcome{
			Status:        StatusNeedsHandoff,
			RunID:         runID,
			RunDir:        runDir,
			HandoffChunks: chunks,
			Warnings:      warnings,
		}, nil
	}

	// Every handoff step is sentinel-complete, so the remaining assigned
	// steps execute and the run terminates ok. No adapter runs for a
	// sentinel-completed step.
	fragments := make([]runners.Fragment, 0, len(plan.Steps))
	for _, asg := range plan.Steps {
		if completed[asg.Step] {
			fragments = append(fragments, runners.Fragment{
				Step:    asg.Step,
				Runner:  asg.Runner,
				Model:   asg.Model,
				Status:  statusManualComplete,
				Outputs: []string{},
			})
			continue
		}
		adapter, ok := k.registry()[asg.Runner]
		if !ok {
			return nil, fmt.Errorf("no adapter registered for runner %q", asg.Runner)
		}
		spec, err := adapter.Prepare(p, plan, asg)
		if err != nil {
			return nil, fmt.Errorf("prepare step %q: %w", asg.Step, err)
		}
		raw, err := adapter.Run(spec)
		if err != nil {
			return nil, fmt.Errorf("run step %q: %w", asg.Step, err)
		}
		fragments = append(fragments, adapter.Normalize(raw))
	}

	report := &RunReport{
		SchemaVersion: reportSchemaVersion,
		TaskID:        p.TaskID,
		PacketSHA256:  p.SHA256,
		RunDir:        runID,
		Status:        StatusOK,
		Steps:         fragments,
	}
	if err := k.writeTerminalSet(runDir, plan, report, nil); err != nil {
		return nil, err
	}
	return &Outcome{
		Status:   StatusOK,
		RunID:    runID,
		RunDir:   runDir,
		Warnings: warnings,
	}, nil
}

// refuse writes the refusal-side terminal set and returns the refused
// outcome. Refusals still leave a complete, indexed run directory.
func (k *Kernel) refuse(p *packet.Packet, runDir, runID string, refusal *identity.Refusal) (*Outcome, error) {
	plan := k.refusalPlan(p, runID)
	report := &RefusalReport{
		SchemaVersion:     reportSchemaVersion,
		TaskID:            p.TaskID,
		PacketSHA256:      p.SHA256,
		RunDir:            runID,
		Status:            StatusRefused,
		RefusalKind:       string(refusal.Kind),
		Reason:            refusal.Message,
		ExpectedProjectID: refusal.Expected,
		ObservedProjectID: refusal.Observed,
	}
	if err := k.writeTerminalSet(runDir, plan, nil, report); err != nil {
		return nil, err
	}
	return &Outcome{
		Status:  StatusRefused,
		RunID:   runID,
		RunDir:  runDir,
		Refusal: refusal,
	}, nil
}

// refusalPlan builds the route plan recorded alongside a refusal. When
// the availability declaration is loadable the plan is the real one; a
// refusal must not hide what routing would have decided. Otherwise a
// skeleton plan keeps the artifact set complete.
func (k *Kernel) refusalPlan(p *packet.Packet, runID string) *router.RoutePlan {
	av, err := router.LoadAvailability(filepath.Join(k.RepoRoot, filepath.FromSlash(router.AvailabilityPath)))
	if err == nil {
		plan := router.BuildRoutePlan(p, av)
		plan.RunDir = runID
		return plan
	}

	plan := &router.RoutePlan{
		PacketPath: p.Path,
		RunDir:     runID,
		Policy:     router.PlanPolicy{EscalationLadder: []string{}},
		Steps:      make([]router.StepAssignment, 0, len(p.Steps)),
	}
	for _, step := range p.Steps {
		plan.Steps = append(plan.Steps, router.StepAssignment{
			Step:      step,
			Rationale: "availability declaration unavailable",
		})
	}
	return plan
}

// writeTerminalSet persists the run artifacts: the route plan, exactly
// one report, and the index last so it always covers the final state.
// The stale opposite report is removed to keep the pair mutually
// exclusive across reruns.
func (k *Kernel) writeTerminalSet(runDir string, plan *router.RoutePlan, run *RunReport, refusal *RefusalReport) error {
	if err := artifacts.WriteJSON(filepath.Join(runDir, RoutePlanFilename), plan); err != nil {
		return err
	}

	switch {
	case run != nil:
		os.Remove(filepath.Join(runDir, RefusalReportFilename)) //nolint:errcheck // stale report may not exist
		if err := artifacts.WriteJSON(filepath.Join(runDir, RunReportFilename), run); err != nil {
			return err
		}
	case refusal != nil:
		os.Remove(filepath.Join(runDir, RunReportFilename)) //nolint:errcheck // stale report may not exist
		if err := artifacts.WriteJSON(filepath.Join(runDir, RefusalReportFilename), refusal); err != nil {
			return err
		}
	}

	if _, err := artifacts.WriteIndex(runDir); err != nil {
		return err
	}
	return nil
}

func asRefusal(err error) *identity.Refusal {
	var refusal *identity.Refusal
	if errors.As(err, &refusal) {
		return refusal
	}
	return &identity.Refusal{Message: err.Error()}
}
