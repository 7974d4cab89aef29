package metrics

import (
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "metrics.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func TestEnabledDefaultsOff(t *testing.T) {
	store := openStore(t)
	enabled, err := store.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Fatal("fresh ledger must be disabled")
	}
}

func TestSetEnabledRoundTrip(t *testing.T) {
	store := openStore(t)
	if err := store.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	enabled, err := store.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Fatal("enable did not persist")
	}

	if err := store.SetEnabled(false); err != nil {
		t.Fatal(err)
	}
	enabled, err = store.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Fatal("disable did not persist")
	}
}

func TestEffectiveEnabledEnvOverride(t *testing.T) {
	store := openStore(t)

	t.Setenv(EnvMetrics, "1")
	enabled, err := store.EffectiveEnabled()
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Fatal("TP_METRICS=1 must force-enable")
	}

	if err := store.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvMetrics, "0")
	enabled, err = store.EffectiveEnabled()
	if err != nil {
		t.Fatal(err)
	}
	if enabled {
		t.Fatal("TP_METRICS=0 must force-disable")
	}
}

func TestRecordAndCounters(t *testing.T) {
	store := openStore(t)
	for _, command := range []string{"orchestrate", "orchestrate", "route plan", "audit"} {
		if err := store.Record(command); err != nil {
			t.Fatal(err)
		}
	}

	counters, err := store.Counters()
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 3 {
		t.Fatalf("got %d counters, want 3", len(counters))
	}
	// Sorted by command.
	if counters[0].Command != "audit" || counters[1].Command != "orchestrate" || counters[2].Command != "route plan" {
		t.Fatalf("order = %+v", counters)
	}
	if counters[1].Count != 2 {
		t.Fatalf("orchestrate count = %d, want 2", counters[1].Count)
	}
}

func TestResetKeepsSetting(t *testing.T) {
	store := openStore(t)
	if err := store.SetEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := store.Record("version"); err != nil {
		t.Fatal(err)
	}
	if err := store.Reset(); err != nil {
		t.Fatal(err)
	}

	counters, err := store.Counters()
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 0 {
		t.Fatalf("counters survived reset: %+v", counters)
	}
	enabled, err := store.Enabled()
	if err != nil {
		t.Fatal(err)
	}
	if !enabled {
		t.Fatal("reset cleared the opt-in setting")
	}
}

func TestDefaultPathUsesXDGStateHome(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	path, err := DefaultPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join("/tmp/state", "taskpack", "metrics.db") {
		t.Fatalf("path = %q", path)
	}
}
