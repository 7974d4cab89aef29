package identity

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskpack/taskpack/internal/artifacts"
)

// GuardArtifactDir is the default location for standalone guard check
// artifacts, relative to the repository root.
const GuardArtifactDir = "out/tp_guard"

// CheckResult is the outcome of a standalone repo identity check.
type CheckResult struct {
	Identity     *RepoIdentity
	ArtifactsDir string
}

// CheckRepo verifies repoRoot is a taskpack-managed repository (root
// marker plus identity sidecar), optionally against an expected project
// id, and writes REPO_IDENTITY.json / REPO_IDENTITY.md guard artifacts.
func CheckRepo(repoRoot, expectedProjectID, reportDir string) (*CheckResult, error) {
	markerPath := filepath.Join(repoRoot, RootMarker)
	sidecarPath := filepath.Join(repoRoot, ProjectIdentityPath)

	if _, err := os.Stat(markerPath); err != nil {
		return nil, repoGuardRefusal(expectedProjectID, "", repoRoot)
	}
	if _, err := os.Stat(sidecarPath); err != nil {
		return nil, repoGuardRefusal(expectedProjectID, "", repoRoot)
	}

	repo, err := LoadRepoIdentity(repoRoot)
	if err != nil {
		return nil, err
	}
	if expectedProjectID != "" && repo.ProjectID != expectedProjectID {
		return nil, repoGuardRefusal(expectedProjectID, repo.ProjectID, repoRoot)
	}

	effectiveExpected := expectedProjectID
	if effectiveExpected == "" {
		effectiveExpected = repo.ProjectID
	}

	dir := reportDir
	if dir == "" {
		dir = filepath.Join(repoRoot, filepath.FromSlash(GuardArtifactDir))
	}
	if err := writeGuardArtifacts(dir, effectiveExpected, repo.ProjectID); err != nil {
		return nil, err
	}
	return &CheckResult{Identity: repo, ArtifactsDir: dir}, nil
}

func repoGuardRefusal(expected, observed, repoRoot string) *Refusal {
	obs := observed
	if obs == "" {
		obs = "MISSING"
	}
	return &Refusal{
		Kind:     RefusalRunMismatch,
		Expected: expected,
		Observed: obs,
		Message: fmt.Sprintf(
			"REFUSAL: repo identity mismatch\nexpected_project_id: %s\nobserved_project_id: %s\nrepo_root: %s\nhint: You are likely running the wrong repo. Initialize it with `tp identity init` or switch repos.",
			expected, obs, repoRoot,
		),
	}
}

func writeGuardArtifacts(dir, expected, observed string) error {
	payload := map[string]any{
		"check":               "repo_identity",
		"ok":                  true,
		"expected_project_id": expected,
		"observed_project_id": observed,
		"files": map[string]bool{
			RootMarker:          true,
			ProjectIdentityPath: true,
		},
	}
	if err := artifacts.WriteJSON(filepath.Join(dir, "REPO_IDENTITY.json"), payload); err != nil {
		return err
	}

	md := fmt.Sprintf(
		"# Repo Identity Check\n\n- ok: true\n- expected_project_id: %s\n- observed_project_id: %s\n- %s: true\n- %s: true\n",
		expected, observed, RootMarker, ProjectIdentityPath,
	)
	return artifacts.AtomicWriteText(filepath.Join(dir, "REPO_IDENTITY.md"), md)
}
