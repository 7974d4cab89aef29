package caseaudit

import (
	"fmt"
	"path/filepath"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/bundle"
)

// Recommendation is one fixed-shape packet recommendation.
type Recommendation struct {
	Title                   string   `json:"title"`
	Rationale               string   `json:"rationale"`
	EvidencePointers        []string `json:"evidence_pointers"`
	SuggestedNextPacketType string   `json:"suggested_next_packet_type"`
	AcceptanceCriteria      []string `json:"acceptance_criteria"`
	ID                      string   `json:"id"`
}

// recommendationsPayload is the PACKET_RECOMMENDATIONS.json shape.
type recommendationsPayload struct {
	SchemaVersion   string           `json:"schema_version"`
	CaseID          string           `json:"case_id"`
	GeneratedAt     string           `json:"generated_at"`
	Recommendations []Recommendation `json:"recommendations"`
}

// buildRecommendations evaluates the trigger chain in fixed order and
// assigns sequential ids. The list is never empty: with no trigger
// fired it holds exactly the no-critical-issues placeholder.
func buildRecommendations(caseDir string, findings *Findings) []Recommendation {
	var recs []Recommendation

	if findings.Integrity.Status != "passed" {
		recs = append(recs, Recommendation{
			Title: "Repair case integrity before diagnosis",
			Rationale: fmt.Sprintf(
				"Integrity status is %s with %d mismatches.",
				findings.Integrity.Status, findings.Integrity.MismatchesCount,
			),
			EvidencePointers:        []string{filepath.Join(caseDir, bundle.CaseIndexFilename)},
			SuggestedNextPacketType: "run_artifact_consistency",
			AcceptanceCriteria: []string{
				"Bundle re-ingests with integrity.status == passed",
				"CASE_MANIFEST.json files[] matches extracted content",
			},
		})
	}

	if findings.RunCoverage.RunSummariesFound == 0 {
		recs = append(recs, Recommendation{
			Title: "Acquire summaries for cross-run evidence",
			Rationale: "UNKNOWN: No RUN_SUMMARY.json artifacts were found. " +
				"Request a new bundle containing taskpack/runs/*/RUN_SUMMARY.json.",
			EvidencePointers:        []string{filepath.Join(caseDir, "taskpack", "runs")},
			SuggestedNextPacketType: "verification_hardening",
			AcceptanceCriteria: []string{
				"At least one run includes RUN_SUMMARY.json",
				"Audit can compute verification hygiene from summaries",
			},
		})
	}

	hygiene := findings.VerificationHygiene
	if hygiene.PctChecklistIncomplete > 0 ||
		hygiene.PctVerificationCommandsMissing > 0 ||
		hygiene.PctVerificationOutputsMissing > 0 {
		recs = append(recs, Recommendation{
			Title: "Harden verification completion discipline",
			Rationale: "One or more runs lacked checklist completion, verification commands, " +
				"or verification outputs.",
			EvidencePointers:        []string{filepath.Join(caseDir, bundle.CaseIndexFilename)},
			SuggestedNextPacketType: "verification_hardening",
			AcceptanceCriteria: []string{
				"All runs set checklist_completed == true",
				"All runs set verification_commands_listed == true",
				"All runs set verification_outputs_present == true",
			},
		})
	}

	if len(findings.FailureSignatures.TopRecurringTestFailed) > 0 {
		recs = append(recs, Recommendation{
			Title:                   "Isolate recurring failure signatures",
			Rationale:               "Repeated test_failed claim texts indicate likely flakiness or shared root causes.",
			EvidencePointers:        []string{filepath.Join(caseDir, bundle.CaseIndexFilename)},
			SuggestedNextPacketType: "flakiness_isolation",
			AcceptanceCriteria: []string{
				"Top recurring test_failed signatures have targeted reproductions",
				"Failure recurrence count decreases across new runs",
			},
		})
	}

	hotPaths := findings.DriftIndicators.HotPaths
	switch {
	case hotPaths.Status == "available" && len(hotPaths.TopPaths) > 0:
		recs = append(recs, Recommendation{
			Title:                   "Tighten allowlist around hot paths",
			Rationale:               "Hot paths from ALLOWLIST_DIFF.json suggest concentrated churn.",
			EvidencePointers:        []string{filepath.Join(caseDir, "taskpack", "runs")},
			SuggestedNextPacketType: "allowlist_tightening",
			AcceptanceCriteria: []string{
				"Allowlist patterns explicitly cover high-churn files",
				"Future runs avoid out-of-scope file touch events",
			},
		})
	case hotPaths.Status == "UNKNOWN":
		recs = append(recs, Recommendation{
			Title: "Collect allowlist drift evidence",
			Rationale: "UNKNOWN: ALLOWLIST_DIFF evidence is missing or unparseable. " +
				"Request a new bundle with ALLOWLIST_DIFF.json per run.",
			EvidencePointers:        []string{filepath.Join(caseDir, "taskpack", "runs")},
			SuggestedNextPacketType: "allowlist_tightening",
			AcceptanceCriteria: []string{
				"ALLOWLIST_DIFF.json exists for audited runs",
				"Hot paths can be computed deterministically",
			},
		})
	}

	if len(recs) == 0 {
		recs = append(recs, Recommendation{
			Title:                   "No critical issues detected",
			Rationale:               "Audit found no deterministic triggers for packet recommendations.",
			EvidencePointers:        []string{filepath.Join(caseDir, bundle.CaseIndexFilename)},
			SuggestedNextPacketType: "run_artifact_consistency",
			AcceptanceCriteria:      []string{"Maintain current evidence and integrity posture"},
		})
	}

	for i := range recs {
		recs[i].ID = fmt.Sprintf("REC-%04d", i+1)
	}
	return recs
}

func writeRecommendations(path, caseDir string, findings *Findings) error {
	payload := &recommendationsPayload{
		SchemaVersion:   "1.0",
		CaseID:          findings.CaseID,
		GeneratedAt:     findings.GeneratedAt,
		Recommendations: buildRecommendations(caseDir, findings),
	}
	return artifacts.WriteJSON(path, payload)
}
