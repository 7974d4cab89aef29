// Package gitx wraps the git invocations taskpack needs: best-effort
// identity lookups, working-tree preflight rails, and checkout
// capture/restore for recoverable multi-step mutations.
package gitx

import (
	"fmt"
	"os/exec"
	"strings"
)

// State captures a checkout so it can be restored after a failed
// mutation sequence.
type State struct {
	// Mode is "branch" or "detached".
	Mode string
	// Branch is the checked-out branch name; empty when detached.
	Branch string
	// HeadSHA is the commit the checkout pointed at.
	HeadSHA string
}

// PreflightFlags relax the refusal rails on mutating commands.
type PreflightFlags struct {
	AllowDirty      bool
	AllowDetached   bool
	AllowBaseBranch bool
	BaseBranch      string
}

// Output runs git -C repoRoot args and returns trimmed stdout.
func Output(repoRoot string, args ...string) (string, error) {
	full := append([]string{"-C", repoRoot}, args...)
	out, err := exec.Command("git", full...).Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// OriginURL is a best-effort origin remote lookup; empty when the repo
// has no origin or git is unavailable.
func OriginURL(repoRoot string) string {
	out, err := Output(repoRoot, "remote", "get-url", "origin")
	if err != nil {
		return ""
	}
	return out
}

// HeadSHA is a best-effort HEAD lookup; empty outside a git repo.
func HeadSHA(repoRoot string) string {
	out, err := Output(repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// CurrentBranch returns the checked-out branch name, or "" when
// detached or outside a git repo.
func CurrentBranch(repoRoot string) string {
	out, err := Output(repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil || out == "HEAD" {
		return ""
	}
	return out
}

// StatusPorcelain returns `git status --porcelain` output including
// untracked files.
func StatusPorcelain(repoRoot string) (string, error) {
	return Output(repoRoot, "status", "--porcelain", "--untracked-files=all")
}

// CaptureState records the current branch/detached state and HEAD sha.
func CaptureState(repoRoot string) (State, error) {
	branch, err := Output(repoRoot, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return State{}, err
	}
	head, err := Output(repoRoot, "rev-parse", "HEAD")
	if err != nil {
		return State{}, err
	}
	if branch == "HEAD" {
		return State{Mode: "detached", HeadSHA: head}, nil
	}
	return State{Mode: "branch", Branch: branch, HeadSHA: head}, nil
}

// RestoreState returns the checkout to a previously captured state.
func RestoreState(repoRoot string, state State) error {
	if state.Mode == "branch" {
		if state.Branch == "" {
			return fmt.Errorf("invalid git state: branch mode requires branch name")
		}
		_, err := Output(repoRoot, "checkout", state.Branch)
		return err
	}
	_, err := Output(repoRoot, "checkout", "--detach", state.HeadSHA)
	return err
}

// AbortRebase aborts an in-progress rebase so a failed sequence never
// leaves the repository mid-conflict. No-op when no rebase is running.
func AbortRebase(repoRoot string) {
	_, _ = Output(repoRoot, "rebase", "--abort") //nolint:errcheck // recovery path
}

// PreflightOrRefuse validates the repo against the refusal rails and
// returns the captured state for later restore. Refusals are returned
// as *Refusal values.
func PreflightOrRefuse(repoRoot string, flags PreflightFlags) (State, error) {
	state, err := CaptureState(repoRoot)
	if err != nil {
		return State{}, err
	}

	status, err := StatusPorcelain(repoRoot)
	if err != nil {
		return State{}, err
	}

	if status != "" && !flags.AllowDirty {
		return State{}, &Refusal{Message: "Refused: repository working tree is dirty (use --allow-dirty to override)."}
	}
	if state.Mode == "detached" && !flags.AllowDetached {
		return State{}, &Refusal{Message: "Refused: detached HEAD state (use --allow-detached to override)."}
	}
	if state.Mode == "branch" && state.Branch == flags.BaseBranch && !flags.AllowBaseBranch {
		return State{}, &Refusal{
			Message: fmt.Sprintf("Refused: current branch is base branch `%s` (use --allow-base-branch to override).", flags.BaseBranch),
		}
	}
	return state, nil
}
