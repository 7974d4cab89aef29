package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taskpack/taskpack/internal/gitx"
	"github.com/taskpack/taskpack/internal/orchestrator"
)

var (
	allowDirty      bool
	allowDetached   bool
	allowBaseBranch bool
	baseBranch      string
)

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate <packet.json>",
	Short: "Run a task packet end to end",
	Long: `Load a task packet, bind it to the current repository, route its
steps against the availability declaration, and either execute them or
emit manual handoff chunks.

Exit codes:
  0  every step executed (or was sentinel-complete)
  1  tooling error or identity refusal
  2  handoff pending: complete the printed chunks, then rerun

Examples:
  tp orchestrate packets/TP-0042.json
  TP_RUN_ROOT=/tmp/runs tp orchestrate packets/TP-0042.json`,
	Args: cobra.ExactArgs(1),
	RunE: runOrchestrate,
}

func init() {
	orchestrateCmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "proceed even when the working tree is dirty")
	orchestrateCmd.Flags().BoolVar(&allowDetached, "allow-detached", false, "proceed even on a detached HEAD")
	orchestrateCmd.Flags().BoolVar(&allowBaseBranch, "allow-base-branch", false, "proceed even on the base branch")
	orchestrateCmd.Flags().StringVar(&baseBranch, "base-branch", "main", "branch treated as the protected base")
	rootCmd.AddCommand(orchestrateCmd)
}

func runOrchestrate(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	// Preflight rails only apply inside a git checkout; plain directories
	// have no state worth protecting.
	if gitx.HeadSHA(root) != "" {
		_, err := gitx.PreflightOrRefuse(root, gitx.PreflightFlags{
			AllowDirty:      allowDirty,
			AllowDetached:   allowDetached,
			AllowBaseBranch: allowBaseBranch,
			BaseBranch:      baseBranch,
		})
		var refusal *gitx.Refusal
		if errors.As(err, &refusal) {
			fmt.Fprintln(cmd.ErrOrStderr(), refusal.Message)
			return &exitError{code: 1}
		}
		if err != nil {
			return err
		}
	}

	kernel := orchestrator.New(root)
	outcome, err := kernel.Orchestrate(args[0])
	if err != nil {
		return err
	}

	for _, warning := range outcome.Warnings {
		printWarning(warning)
	}

	switch outcome.Status {
	case orchestrator.StatusRefused:
		fmt.Fprintln(cmd.ErrOrStderr(), outcome.Refusal.Message)
		return &exitError{code: 1}

	case orchestrator.StatusNeedsHandoff:
		fmt.Fprintln(cmd.OutOrStdout(), orchestrator.RenderHandoffChunks(outcome.HandoffChunks))
		fmt.Fprintf(cmd.OutOrStdout(), "run dir: %s\n", outcome.RunDir)
		return &exitError{code: 2}

	default:
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %s\n", outcome.RunDir)
		return nil
	}
}
