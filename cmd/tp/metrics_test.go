package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestMetricsEnableShowDisable(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	var out bytes.Buffer
	metricsEnableCmd.SetOut(&out)
	t.Cleanup(func() { metricsEnableCmd.SetOut(nil) })
	if err := metricsEnableCmd.RunE(metricsEnableCmd, nil); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if !strings.Contains(out.String(), "metrics enabled") {
		t.Fatalf("enable output = %q", out.String())
	}

	recordInvocation(orchestrateCmd)
	recordInvocation(orchestrateCmd)

	var show bytes.Buffer
	metricsShowCmd.SetOut(&show)
	t.Cleanup(func() { metricsShowCmd.SetOut(nil) })
	if err := metricsShowCmd.RunE(metricsShowCmd, nil); err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(show.String(), "enabled: true") || !strings.Contains(show.String(), "orchestrate") {
		t.Fatalf("show output = %q", show.String())
	}

	var reset bytes.Buffer
	metricsResetCmd.SetOut(&reset)
	t.Cleanup(func() { metricsResetCmd.SetOut(nil) })
	if err := metricsResetCmd.RunE(metricsResetCmd, nil); err != nil {
		t.Fatalf("reset: %v", err)
	}

	var disable bytes.Buffer
	metricsDisableCmd.SetOut(&disable)
	t.Cleanup(func() { metricsDisableCmd.SetOut(nil) })
	if err := metricsDisableCmd.RunE(metricsDisableCmd, nil); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if !strings.Contains(disable.String(), "metrics disabled") {
		t.Fatalf("disable output = %q", disable.String())
	}
}

func TestRecordInvocationKeysByCommandTree(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	t.Setenv("TP_METRICS", "1")

	recordInvocation(routePlanCmd)

	store, err := openMetricsStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck // test handle

	counters, err := store.Counters()
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 1 || counters[0].Command != "route plan" {
		t.Fatalf("counters = %+v, want one entry keyed `route plan`", counters)
	}
}

func TestRecordInvocationDisabledByDefault(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", t.TempDir())

	recordInvocation(orchestrateCmd)

	store, err := openMetricsStore()
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close() //nolint:errcheck // test handle

	counters, err := store.Counters()
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 0 {
		t.Fatalf("counters recorded while disabled: %+v", counters)
	}
}
