package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/caseaudit"
)

var (
	auditOut           string
	auditTimestampMode string
)

var auditCmd = &cobra.Command{
	Use:   "audit <case-dir>",
	Short: "Audit an ingested case directory",
	Long: `Aggregate run summaries from an ingested case into deterministic
findings, a markdown report, and packet recommendations.

Missing evidence never fails the audit; it surfaces as UNKNOWN blocks
in the findings.

Examples:
  tp audit out/tp_cases/case-0042
  tp audit out/tp_cases/case-0042 --out /tmp/audit --timestamp-mode wallclock`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().StringVar(&auditOut, "out", "", "Output directory (default: <case-dir>/reports)")
	auditCmd.Flags().StringVar(&auditTimestampMode, "timestamp-mode", artifacts.TimestampModeDeterministic, "Timestamp mode (deterministic, wallclock)")
}

func runAudit(cmd *cobra.Command, args []string) error {
	caseDir := args[0]
	out := auditOut
	if out == "" {
		out = filepath.Join(caseDir, "reports")
	}

	result, err := caseaudit.Audit(caseDir, out, auditTimestampMode)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "findings: %s\n", result.FindingsPath)
	fmt.Fprintf(cmd.OutOrStdout(), "report: %s\n", result.ReportPath)
	fmt.Fprintf(cmd.OutOrStdout(), "recommendations: %s\n", result.RecommendationsPath)
	return nil
}
