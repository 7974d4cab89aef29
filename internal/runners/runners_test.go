package runners

import (
	"testing"

	"github.com/taskpack/taskpack/internal/packet"
	"github.com/taskpack/taskpack/internal/router"
)

func TestDefaultRegistry(t *testing.T) {
	reg := Default()
	for _, id := range []string{"claude_code", "codex_desktop", "copilot_cli"} {
		adapter, ok := reg[id]
		if !ok {
			t.Fatalf("registry missing adapter %s", id)
		}
		if adapter.ID() != id {
			t.Errorf("adapter ID() = %q, want %q", adapter.ID(), id)
		}
	}
}

func TestSimulatedAdapterLifecycle(t *testing.T) {
	reg := Default()
	adapter := reg["codex_desktop"]
	p := &packet.Packet{TaskID: "demo", Steps: []string{"alpha"}, Path: "packet.json"}
	plan := &router.RoutePlan{RunDir: "demo-abc123"}
	assignment := router.StepAssignment{Step: "alpha", Runner: "codex_desktop", Model: "gpt-5.3-codex", Score: 2}

	spec, err := adapter.Prepare(p, plan, assignment)
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if spec.Step != "alpha" || spec.ModelID != "gpt-5.3-codex" || spec.RunDir != "demo-abc123" {
		t.Errorf("spec = %+v", spec)
	}

	raw, err := adapter.Run(spec)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if raw.Status != "ok" || raw.RunnerID != "codex_desktop" {
		t.Errorf("raw = %+v", raw)
	}

	fragment := adapter.Normalize(raw)
	if fragment.Step != "alpha" || fragment.Runner != "codex_desktop" || fragment.Status != "ok" {
		t.Errorf("fragment = %+v", fragment)
	}
}

func TestPrepareRejectsForeignAssignment(t *testing.T) {
	adapter := Default()["claude_code"]
	p := &packet.Packet{TaskID: "demo", Steps: []string{"alpha"}}
	assignment := router.StepAssignment{Step: "alpha", Runner: "codex_desktop", Model: "m"}

	if _, err := adapter.Prepare(p, &router.RoutePlan{}, assignment); err == nil {
		t.Errorf("Prepare() accepted a step assigned to another runner")
	}
}

func TestDisplayID(t *testing.T) {
	cases := map[string]string{
		"codex_desktop": "codex-cli",
		"claude_code":   "claude-code",
		"copilot_cli":   "copilot-cli",
		"custom_runner": "custom_runner",
	}
	for in, want := range cases {
		if got := DisplayID(in); got != want {
			t.Errorf("DisplayID(%q) = %q, want %q", in, got, want)
		}
	}
}
