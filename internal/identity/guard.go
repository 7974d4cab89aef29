package identity

import (
	"fmt"
	"strings"

	"github.com/taskpack/taskpack/internal/packet"
)

// Branch names following this prefix carry a project id that must match
// the repo; any other branch name is ignored by the branch check.
const branchConventionPrefix = "tp/"

// AssertRepoPacketIdentity hard-refuses when the packet's PROJECT
// IDENTITY header mismatches the repo. A packet without the header
// passes silently unless the repo requires one.
func AssertRepoPacketIdentity(repo *RepoIdentity, header *packet.ProjectIdentity) error {
	if header == nil {
		if repo.PacketRequiredHeader {
			return &Refusal{
				Kind:     RefusalMissingHeader,
				Expected: repo.ProjectID,
				Message:  missingProjectHeaderRefusal,
			}
		}
		return nil
	}

	packetProjectID := strings.TrimSpace(header.ProjectID)
	if packetProjectID != repo.ProjectID {
		return &Refusal{
			Kind:     RefusalPacketMismatch,
			Expected: repo.ProjectID,
			Observed: packetProjectID,
			Message: fmt.Sprintf(
				"ERROR: Task Packet project_id '%s' does not match repo project_id '%s'.\nRefusing to run. Use the correct repo or correct packet.",
				packetProjectID, repo.ProjectID,
			),
		}
	}
	return nil
}

// AssertRepoRunIdentity hard-refuses when a run directory's persisted
// identity belongs to a different project.
func AssertRepoRunIdentity(repo *RepoIdentity, run *RunIdentity) error {
	if run.ProjectID != repo.ProjectID {
		return &Refusal{
			Kind:     RefusalRunMismatch,
			Expected: repo.ProjectID,
			Observed: run.ProjectID,
			Message: fmt.Sprintf(
				"ERROR: Run directory project_id '%s' does not match repo project_id '%s'.\nRefusing to run.",
				run.ProjectID, repo.ProjectID,
			),
		}
	}
	return nil
}

// AssertRepoBranchIdentity hard-refuses when a tp/<project_id>/...
// branch names a different project. Branches outside the convention are
// a no-op.
func AssertRepoBranchIdentity(repo *RepoIdentity, branchName string) error {
	if !strings.HasPrefix(branchName, branchConventionPrefix) {
		return nil
	}

	parts := strings.SplitN(branchName, "/", 3)
	if len(parts) < 2 {
		return nil
	}

	branchProjectID := strings.TrimSpace(parts[1])
	if branchProjectID != repo.ProjectID {
		return &Refusal{
			Kind:     RefusalBranchMismatch,
			Expected: repo.ProjectID,
			Observed: branchProjectID,
			Message: fmt.Sprintf(
				"ERROR: Current branch project_id '%s' does not match repo project_id '%s'.\nRefusing to run.",
				branchProjectID, repo.ProjectID,
			),
		}
	}
	return nil
}

// OriginHintWarning builds a one-line soft warning when the run's
// recorded origin URL does not contain the repo's remote hint. Returns
// "" when there is nothing to warn about. Never refuses.
func OriginHintWarning(repoRemoteHint, originURL string) string {
	if originURL == "" {
		return "[taskpack][WARNING] origin URL not available"
	}
	if repoRemoteHint != "" && !strings.Contains(originURL, repoRemoteHint) {
		return fmt.Sprintf(
			"[taskpack][WARNING] origin URL does not match repo_remote_hint='%s' (origin='%s')",
			repoRemoteHint, originURL,
		)
	}
	return ""
}

// RunIdentityOriginWarning applies OriginHintWarning to a persisted run
// identity.
func RunIdentityOriginWarning(repo *RepoIdentity, run *RunIdentity) string {
	return OriginHintWarning(repo.RepoRemoteHint, run.OriginURL)
}
