package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/identity"
)

var (
	identityCheckProjectID string
	identityCheckReportDir string

	identityInitProjectID     string
	identityInitSlug          string
	identityInitRemoteHint    string
	identityInitRequireHeader bool
)

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Repository identity checks",
}

var identityCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the repository identity binding",
	Long: `Verify the repository carries the root marker and identity sidecar,
optionally against an expected project id, and write guard artifacts.

Examples:
  tp identity check
  tp identity check --project-id taskx`,
	Args: cobra.NoArgs,
	RunE: runIdentityCheck,
}

var identityInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the repository identity sidecar",
	Long: `Write the .taskpackroot marker and .taskpack/project.json sidecar
that bind this repository to a project id. Existing files are left
untouched.`,
	Args: cobra.NoArgs,
	RunE: runIdentityInit,
}

func init() {
	rootCmd.AddCommand(identityCmd)
	identityCmd.AddCommand(identityCheckCmd)
	identityCmd.AddCommand(identityInitCmd)

	identityCheckCmd.Flags().StringVar(&identityCheckProjectID, "project-id", "", "Expected project id (default: the sidecar's)")
	identityCheckCmd.Flags().StringVar(&identityCheckReportDir, "report-dir", "", "Guard artifact directory (default: out/tp_guard)")

	identityInitCmd.Flags().StringVar(&identityInitProjectID, "project-id", "", "Project id to bind this repository to")
	identityInitCmd.Flags().StringVar(&identityInitSlug, "slug", "", "Optional project slug")
	identityInitCmd.Flags().StringVar(&identityInitRemoteHint, "remote-hint", "", "Substring expected in the git origin URL")
	identityInitCmd.Flags().BoolVar(&identityInitRequireHeader, "require-header", false, "Refuse packets without a PROJECT IDENTITY header")
	identityInitCmd.MarkFlagRequired("project-id") //nolint:errcheck // flag exists
}

func runIdentityCheck(cmd *cobra.Command, args []string) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}

	result, err := identity.CheckRepo(root, identityCheckProjectID, identityCheckReportDir)
	if err != nil {
		var refusal *identity.Refusal
		if errors.As(err, &refusal) {
			fmt.Fprintln(cmd.ErrOrStderr(), refusal.Message)
			return &exitError{code: 1}
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "ok: project_id %s\n", result.Identity.ProjectID)
	fmt.Fprintf(cmd.OutOrStdout(), "artifacts: %s\n", result.ArtifactsDir)
	return nil
}

func runIdentityInit(cmd *cobra.Command, args []string) error {
	root := repoFlag
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		root = cwd
	}

	sidecarPath := filepath.Join(root, filepath.FromSlash(identity.ProjectIdentityPath))
	if _, err := os.Stat(sidecarPath); err == nil {
		return fmt.Errorf("identity sidecar already exists: %s", sidecarPath)
	}
	if err := os.MkdirAll(filepath.Dir(sidecarPath), 0o755); err != nil {
		return fmt.Errorf("create sidecar dir: %w", err)
	}

	sidecar := &identity.RepoIdentity{
		ProjectID:            identityInitProjectID,
		ProjectSlug:          identityInitSlug,
		RepoRemoteHint:       identityInitRemoteHint,
		PacketRequiredHeader: identityInitRequireHeader,
	}
	if err := artifacts.WriteJSON(sidecarPath, sidecar); err != nil {
		return err
	}

	markerPath := filepath.Join(root, identity.RootMarker)
	if _, err := os.Stat(markerPath); os.IsNotExist(err) {
		if err := os.WriteFile(markerPath, nil, 0o644); err != nil {
			return fmt.Errorf("write root marker: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "initialized project_id %s at %s\n", identityInitProjectID, root)
	return nil
}
