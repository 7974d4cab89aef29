package orchestrator

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/taskpack/taskpack/internal/identity"
	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
	"github.com/taskpack/taskpack/internal/runners"
)

func initWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".taskpack"), 0o755); err != nil {
		t.Fatal(err)
	}
	sidecar := `{"project_id": "taskx", "repo_remote_hint": "example.com/taskx"}`
	if err := os.WriteFile(filepath.Join(root, identity.ProjectIdentityPath), []byte(sidecar), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, identity.RootMarker), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := router.EnsureDefaultAvailability(root); err != nil {
		t.Fatal(err)
	}
	return root
}

func writePacket(t *testing.T, root, content string) string {
	t.Helper()
	path := filepath.Join(root, "packet.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const autoPacket = `{
  "task_id": "T-001",
  "execution_mode": "auto",
  "steps": ["Edit the parser", "Run tests"],
  "project_identity": {"project_id": "taskx"}
}`

// strictAvailability leaves every step unassigned.
const strictAvailability = `models:
  sonnet-4.55:
    strengths: [code_edit]
runners:
  claude_code:
    available: true
    strengths: [code_edit]
policy:
  min_total_score: 999
  escalation_ladder: [sonnet-4.55]
`

func writeAvailability(t *testing.T, root, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(router.AvailabilityPath))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// spyAdapter records each Run invocation in a shared log.
type spyAdapter struct {
	id   string
	runs *[]string
}

func (a *spyAdapter) ID() string { return a.id }

func (a *spyAdapter) Prepare(p *packet.Packet, plan *router.RoutePlan, step router.StepAssignment) (runners.RunSpec, error) {
	return runners.RunSpec{
		RunnerID:   a.id,
		Step:       step.Step,
		ModelID:    step.Model,
		PacketPath: p.Path,
		RunDir:     plan.RunDir,
	}, nil
}

func (a *spyAdapter) Run(spec runners.RunSpec) (runners.RawResult, error) {
	*a.runs = append(*a.runs, spec.Step)
	return runners.RawResult{
		Status:   "ok",
		RunnerID: spec.RunnerID,
		Step:     spec.Step,
		ModelID:  spec.ModelID,
		Outputs:  []string{},
	}, nil
}

func (a *spyAdapter) Normalize(raw runners.RawResult) runners.Fragment {
	return runners.Fragment{
		Step:    raw.Step,
		Runner:  raw.RunnerID,
		Model:   raw.ModelID,
		Status:  raw.Status,
		Outputs: raw.Outputs,
	}
}

func spyRegistry(runs *[]string) runners.Registry {
	return runners.Registry{
		"claude_code":   &spyAdapter{id: "claude_code", runs: runs},
		"codex_desktop": &spyAdapter{id: "codex_desktop", runs: runs},
		"copilot_cli":   &spyAdapter{id: "copilot_cli", runs: runs},
	}
}

func readRunReport(t *testing.T, runDir string) *RunReport {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join(runDir, RunReportFilename))
	if err != nil {
		t.Fatal(err)
	}
	var report RunReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	return &report
}

func TestOrchestrateAutoComplete(t *testing.T) {
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if outcome.Status != StatusOK {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusOK)
	}
	if !strings.HasPrefix(outcome.RunID, "T-001-") || len(outcome.RunID) != len("T-001-")+12 {
		t.Fatalf("unexpected run id %q", outcome.RunID)
	}

	report := readRunReport(t, outcome.RunDir)
	if report.Status != StatusOK {
		t.Fatalf("report status = %q", report.Status)
	}
	if len(report.Steps) != 2 {
		t.Fatalf("report has %d steps, want 2", len(report.Steps))
	}
	if report.Steps[0].Step != "Edit the parser" || report.Steps[1].Step != "Run tests" {
		t.Fatalf("step order = %q, %q", report.Steps[0].Step, report.Steps[1].Step)
	}
	for _, frag := range report.Steps {
		if frag.Status != "ok" {
			t.Fatalf("step %q status = %q", frag.Step, frag.Status)
		}
	}

	if _, err := os.Stat(filepath.Join(outcome.RunDir, RefusalReportFilename)); !os.IsNotExist(err) {
		t.Fatal("refusal report written alongside run report")
	}
	for _, name := range []string{RoutePlanFilename, identity.RunIdentityFilename, "ARTIFACT_INDEX.json"} {
		if _, err := os.Stat(filepath.Join(outcome.RunDir, name)); err != nil {
			t.Fatalf("missing artifact %s: %v", name, err)
		}
	}
}

func TestOrchestrateOneRunPerStep(t *testing.T) {
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	var runs []string
	k := New(root)
	k.Registry = spyRegistry(&runs)

	if _, err := k.Orchestrate(path); err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("adapter invoked %d times, want 2", len(runs))
	}
	if runs[0] != "Edit the parser" || runs[1] != "Run tests" {
		t.Fatalf("run order = %v", runs)
	}
}

func TestOrchestrateNeedsHandoff(t *testing.T) {
	root := initWorkspace(t)
	writeAvailability(t, root, strictAvailability)
	path := writePacket(t, root, autoPacket)

	var runs []string
	k := New(root)
	k.Registry = spyRegistry(&runs)

	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if outcome.Status != StatusNeedsHandoff {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusNeedsHandoff)
	}
	if len(runs) != 0 {
		t.Fatalf("adapter invoked %d times during handoff, want 0", len(runs))
	}
	if len(outcome.HandoffChunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(outcome.HandoffChunks))
	}

	rendered := RenderHandoffChunks(outcome.HandoffChunks)
	if !strings.Contains(rendered, "HANDOFF CHUNK 1/2 (Edit the parser)") {
		t.Fatalf("rendered chunks missing banner:\n%s", rendered)
	}
	if !strings.Contains(rendered, "Resume: tp orchestrate "+path) {
		t.Fatalf("rendered chunks missing resume command:\n%s", rendered)
	}
	// Chunks embed the run id only, so a different run root produces
	// identical instruction bytes.
	if strings.Contains(rendered, root) {
		t.Fatalf("chunk text leaks run root:\n%s", rendered)
	}
	if !strings.Contains(rendered, "Output dir: "+outcome.RunID) {
		t.Fatalf("chunk text missing run id:\n%s", rendered)
	}

	report := readRunReport(t, outcome.RunDir)
	if report.Status != StatusNeedsHandoff {
		t.Fatalf("report status = %q", report.Status)
	}
}

func TestOrchestrateSentinelResume(t *testing.T) {
	root := initWorkspace(t)
	writeAvailability(t, root, strictAvailability)
	path := writePacket(t, root, autoPacket)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("first orchestrate: %v", err)
	}
	if outcome.Status != StatusNeedsHandoff {
		t.Fatalf("first status = %q", outcome.Status)
	}

	for _, chunk := range outcome.HandoffChunks {
		for _, name := range chunk.ExpectedArtifacts {
			if err := os.WriteFile(filepath.Join(outcome.RunDir, name), []byte("done\n"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	resumed, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("resume orchestrate: %v", err)
	}
	if resumed.Status != StatusOK {
		t.Fatalf("resumed status = %q, want %q", resumed.Status, StatusOK)
	}
	report := readRunReport(t, resumed.RunDir)
	for _, frag := range report.Steps {
		if frag.Status != statusManualComplete {
			t.Fatalf("step %q status = %q, want %q", frag.Step, frag.Status, statusManualComplete)
		}
	}
}

func TestOrchestrateManualMode(t *testing.T) {
	root := initWorkspace(t)
	manualPacket := strings.Replace(autoPacket, `"auto"`, `"manual"`, 1)
	path := writePacket(t, root, manualPacket)

	var runs []string
	k := New(root)
	k.Registry = spyRegistry(&runs)

	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if outcome.Status != StatusNeedsHandoff {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusNeedsHandoff)
	}
	// Manual mode never auto-executes, even when routing fully assigns.
	if len(runs) != 0 {
		t.Fatalf("adapter invoked %d times in manual mode, want 0", len(runs))
	}
	if len(outcome.HandoffChunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(outcome.HandoffChunks))
	}
	if outcome.HandoffChunks[0].RunnerID == "unassigned" {
		t.Fatal("manual chunk for assigned step lost its runner")
	}
}

func TestOrchestrateRefusalPacketMismatch(t *testing.T) {
	root := initWorkspace(t)
	mismatched := strings.Replace(autoPacket, `"project_id": "taskx"`, `"project_id": "adops"`, 1)
	path := writePacket(t, root, mismatched)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if outcome.Status != StatusRefused {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusRefused)
	}
	want := "ERROR: Task Packet project_id 'adops' does not match repo project_id 'taskx'.\nRefusing to run. Use the correct repo or correct packet."
	if outcome.Refusal.Message != want {
		t.Fatalf("refusal message = %q", outcome.Refusal.Message)
	}

	raw, err := os.ReadFile(filepath.Join(outcome.RunDir, RefusalReportFilename))
	if err != nil {
		t.Fatal(err)
	}
	var report RefusalReport
	if err := json.Unmarshal(raw, &report); err != nil {
		t.Fatal(err)
	}
	if report.RefusalKind != string(identity.RefusalPacketMismatch) {
		t.Fatalf("refusal kind = %q", report.RefusalKind)
	}
	if report.ExpectedProjectID != "taskx" || report.ObservedProjectID != "adops" {
		t.Fatalf("refusal ids = %q / %q", report.ExpectedProjectID, report.ObservedProjectID)
	}

	if _, err := os.Stat(filepath.Join(outcome.RunDir, RunReportFilename)); !os.IsNotExist(err) {
		t.Fatal("run report written alongside refusal report")
	}
	if _, err := os.Stat(filepath.Join(outcome.RunDir, RoutePlanFilename)); err != nil {
		t.Fatalf("refusal run dir missing route plan: %v", err)
	}
}

func TestOrchestrateRefusalMissingAvailability(t *testing.T) {
	root := initWorkspace(t)
	if err := os.Remove(filepath.Join(root, filepath.FromSlash(router.AvailabilityPath))); err != nil {
		t.Fatal(err)
	}
	path := writePacket(t, root, autoPacket)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if outcome.Status != StatusRefused {
		t.Fatalf("status = %q, want %q", outcome.Status, StatusRefused)
	}
	if outcome.Refusal.Kind != refusalKindAvailability {
		t.Fatalf("refusal kind = %q", outcome.Refusal.Kind)
	}

	raw, err := os.ReadFile(filepath.Join(outcome.RunDir, RoutePlanFilename))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(raw, []byte("availability declaration unavailable")) {
		t.Fatalf("skeleton plan missing rationale:\n%s", raw)
	}
}

func TestOrchestrateRerunByteIdentical(t *testing.T) {
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("first orchestrate: %v", err)
	}

	names := []string{RoutePlanFilename, RunReportFilename, identity.RunIdentityFilename, "ARTIFACT_INDEX.json"}
	first := map[string][]byte{}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(outcome.RunDir, name))
		if err != nil {
			t.Fatal(err)
		}
		first[name] = raw
	}

	if _, err := k.Orchestrate(path); err != nil {
		t.Fatalf("second orchestrate: %v", err)
	}
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(outcome.RunDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first[name], raw) {
			t.Fatalf("%s changed across identical reruns", name)
		}
	}
}

func TestOrchestrateRunRootEnvInvariance(t *testing.T) {
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	defaultOutcome, err := New(root).Orchestrate(path)
	if err != nil {
		t.Fatalf("default-root orchestrate: %v", err)
	}

	t.Setenv(EnvRunRoot, t.TempDir())
	overrideOutcome, err := New(root).Orchestrate(path)
	if err != nil {
		t.Fatalf("override-root orchestrate: %v", err)
	}
	if overrideOutcome.RunDir == defaultOutcome.RunDir {
		t.Fatal("override did not move the run dir")
	}

	for _, name := range []string{RoutePlanFilename, RunReportFilename} {
		a, err := os.ReadFile(filepath.Join(defaultOutcome.RunDir, name))
		if err != nil {
			t.Fatal(err)
		}
		b, err := os.ReadFile(filepath.Join(overrideOutcome.RunDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("%s differs across run roots", name)
		}
	}
}

func TestOrchestrateReportsCarryNoTimestamps(t *testing.T) {
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	k := New(root)
	outcome, err := k.Orchestrate(path)
	if err != nil {
		t.Fatalf("orchestrate: %v", err)
	}

	stamp := regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	for _, name := range []string{RoutePlanFilename, RunReportFilename} {
		raw, err := os.ReadFile(filepath.Join(outcome.RunDir, name))
		if err != nil {
			t.Fatal(err)
		}
		if stamp.Match(raw) {
			t.Fatalf("%s embeds a timestamp:\n%s", name, raw)
		}
	}
}

func TestOrchestrateLeavesGitStatusUntouched(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	root := initWorkspace(t)
	path := writePacket(t, root, autoPacket)

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", append([]string{"-C", root}, args...)...)
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	git("init", "-q")
	git("config", "user.email", "dev@example.com")
	git("config", "user.name", "dev")
	git("add", "-A")
	git("commit", "-q", "-m", "seed")

	status := func() string {
		out, err := exec.Command("git", "-C", root, "status", "--porcelain", "--untracked-files=all").Output()
		if err != nil {
			t.Fatal(err)
		}
		return string(out)
	}
	before := status()

	t.Setenv(EnvRunRoot, t.TempDir())
	if _, err := New(root).Orchestrate(path); err != nil {
		t.Fatalf("orchestrate: %v", err)
	}
	if after := status(); after != before {
		t.Fatalf("git status changed:\nbefore: %q\nafter: %q", before, after)
	}
}

func TestSentinelFilename(t *testing.T) {
	cases := map[string]string{
		"Run tests":         "STEP_RUN_TESTS.DONE",
		"Edit the parser":   "STEP_EDIT_THE_PARSER.DONE",
		"fix bug #42":       "STEP_FIX_BUG_42.DONE",
		"  retry -- twice ": "STEP_RETRY_TWICE.DONE",
	}
	for step, want := range cases {
		if got := sentinelFilename(step); got != want {
			t.Errorf("sentinelFilename(%q) = %q, want %q", step, got, want)
		}
	}
}

func TestRunID(t *testing.T) {
	p := &packet.Packet{TaskID: "T-9", SHA256: strings.Repeat("a", 64)}
	want := "T-9-aaaaaaaaaaaa"
	if got := RunID(p); got != want {
		t.Fatalf("RunID = %q, want %q", got, want)
	}
}
