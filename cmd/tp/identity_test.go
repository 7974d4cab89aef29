package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestIdentityInitThenCheck(t *testing.T) {
	root := t.TempDir()
	setRepoFlag(t, root)

	oldID := identityInitProjectID
	identityInitProjectID = "taskx"
	t.Cleanup(func() { identityInitProjectID = oldID })

	var out bytes.Buffer
	identityInitCmd.SetOut(&out)
	t.Cleanup(func() { identityInitCmd.SetOut(nil) })
	if err := runIdentityInit(identityInitCmd, nil); err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(out.String(), "initialized project_id taskx") {
		t.Fatalf("init output = %q", out.String())
	}

	// A second init must not clobber the sidecar.
	if err := runIdentityInit(identityInitCmd, nil); err == nil {
		t.Fatal("second init succeeded")
	}

	oldReport := identityCheckReportDir
	identityCheckReportDir = filepath.Join(root, "guard")
	t.Cleanup(func() { identityCheckReportDir = oldReport })

	var checkOut bytes.Buffer
	identityCheckCmd.SetOut(&checkOut)
	t.Cleanup(func() { identityCheckCmd.SetOut(nil) })
	if err := runIdentityCheck(identityCheckCmd, nil); err != nil {
		t.Fatalf("check: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "guard", "REPO_IDENTITY.json")); err != nil {
		t.Fatalf("guard artifact missing: %v", err)
	}
}

func TestIdentityCheckWrongProjectID(t *testing.T) {
	root := seedWorkspace(t)
	setRepoFlag(t, root)

	oldID := identityCheckProjectID
	identityCheckProjectID = "other"
	t.Cleanup(func() { identityCheckProjectID = oldID })

	var errOut bytes.Buffer
	identityCheckCmd.SetErr(&errOut)
	t.Cleanup(func() { identityCheckCmd.SetErr(nil) })

	err := runIdentityCheck(identityCheckCmd, nil)
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 1 {
		t.Fatalf("err = %v, want exit code 1", err)
	}
	if !strings.Contains(errOut.String(), "REFUSAL: repo identity mismatch") {
		t.Fatalf("stderr = %q", errOut.String())
	}
}
