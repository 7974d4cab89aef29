// Package identity binds task packets, run directories, and branches to
// one canonical repository and hard-refuses on mismatch.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/gitx"
)

const (
	// ProjectIdentityPath is the repo identity sidecar, relative to the
	// repository root.
	ProjectIdentityPath = ".taskpack/project.json"

	// RootMarker marks a directory as a taskpack-managed repository root.
	RootMarker = ".taskpackroot"

	// RunIdentityFilename is the identity binding persisted in each run
	// directory.
	RunIdentityFilename = "RUN_IDENTITY.json"

	// runIdentitySchemaVersion is written into new RUN_IDENTITY.json files.
	runIdentitySchemaVersion = "1.0"
)

// RepoIdentity is the canonical identity of the active repository,
// loaded once per invocation from the sidecar file.
type RepoIdentity struct {
	ProjectID            string `json:"project_id"`
	ProjectSlug          string `json:"project_slug,omitempty"`
	RepoRemoteHint       string `json:"repo_remote_hint,omitempty"`
	PacketRequiredHeader bool   `json:"packet_required_header,omitempty"`
}

// RunIdentity is the binding persisted once per run directory. Created
// on first access, validated on every later access, never silently
// overwritten.
type RunIdentity struct {
	SchemaVersion string `json:"schema_version"`
	ProjectID     string `json:"project_id"`
	RepoRoot      string `json:"repo_root"`
	OriginURL     string `json:"origin_url,omitempty"`
	HeadSHA       string `json:"head_sha,omitempty"`
	TimestampUTC  string `json:"timestamp_utc"`
}

// LoadRepoIdentity loads the canonical repo identity from
// .taskpack/project.json under repoRoot.
func LoadRepoIdentity(repoRoot string) (*RepoIdentity, error) {
	path := filepath.Join(repoRoot, ProjectIdentityPath)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("repo identity file not found: %s", path)
		}
		return nil, fmt.Errorf("read repo identity: %w", err)
	}

	var identity RepoIdentity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("invalid repo identity JSON: %s: %w", path, err)
	}
	identity.ProjectID = strings.TrimSpace(identity.ProjectID)
	if identity.ProjectID == "" {
		return nil, fmt.Errorf("missing required key 'project_id' in %s", path)
	}
	return &identity, nil
}

// LoadRunIdentity loads RUN_IDENTITY.json from runDir when present;
// returns nil without error when the file does not exist.
func LoadRunIdentity(runDir string) (*RunIdentity, error) {
	path := filepath.Join(runDir, RunIdentityFilename)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run identity: %w", err)
	}

	var identity RunIdentity
	if err := json.Unmarshal(raw, &identity); err != nil {
		return nil, fmt.Errorf("invalid run identity JSON: %s: %w", path, err)
	}
	identity.ProjectID = strings.TrimSpace(identity.ProjectID)
	if identity.ProjectID == "" {
		return nil, fmt.Errorf("missing required key 'project_id' in %s", path)
	}
	if strings.TrimSpace(identity.SchemaVersion) == "" {
		identity.SchemaVersion = runIdentitySchemaVersion
	}
	return &identity, nil
}

// EnsureRunIdentity makes sure runDir carries an identity bound to the
// current repo. First access creates and persists one from git HEAD and
// origin; later access validates instead of rewriting.
func EnsureRunIdentity(runDir string, repo *RepoIdentity, repoRoot string) (*RunIdentity, error) {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}

	existing, err := LoadRunIdentity(runDir)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := AssertRepoRunIdentity(repo, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}

	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	identity := &RunIdentity{
		SchemaVersion: runIdentitySchemaVersion,
		ProjectID:     repo.ProjectID,
		RepoRoot:      absRoot,
		OriginURL:     gitx.OriginURL(repoRoot),
		HeadSHA:       gitx.HeadSHA(repoRoot),
		TimestampUTC:  time.Now().UTC().Truncate(time.Second).Format("2006-01-02T15:04:05Z"),
	}
	if err := artifacts.WriteJSON(filepath.Join(runDir, RunIdentityFilename), identity); err != nil {
		return nil, err
	}
	return identity, nil
}
