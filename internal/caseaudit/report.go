package caseaudit

import (
	"fmt"
	"strings"
)

// renderReport renders CASE_AUDIT_REPORT.md from the findings. The
// markdown is a pure rendering; no fact is recomputed here.
func renderReport(findings *Findings) string {
	lines := []string{
		"# CASE Audit Report",
		"",
		fmt.Sprintf("- case_id: `%s`", findings.CaseID),
		fmt.Sprintf("- generated_at: `%s`", findings.GeneratedAt),
		fmt.Sprintf("- integrity_status: `%s`", findings.Integrity.Status),
		"",
		"## Run Coverage",
		"",
		fmt.Sprintf("- runs_found: `%d`", findings.RunCoverage.RunsFound),
		fmt.Sprintf("- run_summaries_found: `%d`", findings.RunCoverage.RunSummariesFound),
	}

	if findings.RunCoverage.RunsFound == 0 {
		lines = append(lines, "- 0 runs found")
	}
	if len(findings.RunCoverage.MissingSummaries) > 0 {
		lines = append(lines, fmt.Sprintf("- missing_summaries: `%s`", strings.Join(findings.RunCoverage.MissingSummaries, ", ")))
	}

	hygiene := findings.VerificationHygiene
	lines = append(lines,
		"",
		"## Verification Hygiene",
		"",
		fmt.Sprintf("- pct_checklist_incomplete: `%v`", hygiene.PctChecklistIncomplete),
		fmt.Sprintf("- pct_verification_commands_missing: `%v`", hygiene.PctVerificationCommandsMissing),
		fmt.Sprintf("- pct_verification_outputs_missing: `%v`", hygiene.PctVerificationOutputsMissing),
		"",
		"## Recurring Test Failures",
		"",
	)

	recurring := findings.FailureSignatures.TopRecurringTestFailed
	if len(recurring) == 0 {
		lines = append(lines, "- none")
	}
	for _, entry := range recurring {
		lines = append(lines, fmt.Sprintf(
			"- `%s` :: count=%d :: runs=%s",
			entry.Text, entry.Count, strings.Join(entry.RunIDs, ","),
		))
	}

	return strings.Join(lines, "\n") + "\n"
}
