// Package caseaudit is a pure, deterministic audit over an already
// ingested case directory: it aggregates run summaries into findings,
// renders a markdown report from those findings, and derives packet
// recommendations from fixed triggers. It never crashes on missing or
// malformed evidence; gaps surface as UNKNOWN blocks.
package caseaudit

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/taskpack/taskpack/internal/artifacts"
	"github.com/taskpack/taskpack/internal/bundle"
)

// Output filenames written into the audit output directory.
const (
	FindingsFilename        = "CASE_FINDINGS.json"
	ReportFilename          = "CASE_AUDIT_REPORT.md"
	RecommendationsFilename = "PACKET_RECOMMENDATIONS.json"

	findingsSchemaVersion = "1.0"
)

// requiredRunFiles is the per-run artifact manifest used for drift
// detection.
var requiredRunFiles = []string{
	"PLAN.md",
	"CHECKLIST.md",
	"RUNLOG.md",
	"EVIDENCE.md",
	"COMMANDS.sh",
	"RUN_ENVELOPE.json",
	"RUN_SUMMARY.json",
}

// claimTypes is the fixed claim taxonomy. Anything else counts as
// unknown.
var claimTypes = []string{
	"change_made",
	"test_passed",
	"test_failed",
	"constraint_respected",
	"unknown",
}

// CountEntry is one aggregated text with its per-run occurrence count.
type CountEntry struct {
	Text   string   `json:"text"`
	Count  int      `json:"count"`
	RunIDs []string `json:"run_ids"`
}

// Anomalies aggregates anomaly strings across run summaries.
type Anomalies struct {
	TotalUnique int          `json:"total_unique"`
	Top         []CountEntry `json:"top"`
}

// FailureSignatures groups anomaly and claim aggregation results.
type FailureSignatures struct {
	Anomalies              Anomalies      `json:"anomalies"`
	ClaimCountsByType      map[string]int `json:"claim_counts_by_type"`
	TopRecurringTestFailed []CountEntry   `json:"top_recurring_test_failed"`
	RepeatedUnknownClaims  []CountEntry   `json:"repeated_unknown_claims"`
}

// VerificationHygiene measures how consistently runs closed out their
// verification obligations.
type VerificationHygiene struct {
	RunsWithSummaries              int      `json:"runs_with_summaries"`
	PctChecklistIncomplete         float64  `json:"pct_checklist_incomplete"`
	PctVerificationCommandsMissing float64  `json:"pct_verification_commands_missing"`
	PctVerificationOutputsMissing  float64  `json:"pct_verification_outputs_missing"`
	TopAnomalies                   []string `json:"top_anomalies"`
}

// MissingByRun lists the required files a single run lacks.
type MissingByRun struct {
	RunID        string   `json:"run_id"`
	MissingFiles []string `json:"missing_files"`
}

// MissingRequiredFiles is the required-file drift block.
type MissingRequiredFiles struct {
	Required      []string       `json:"required"`
	MissingByRun  []MissingByRun `json:"missing_by_run"`
	MissingCounts map[string]int `json:"missing_counts"`
}

// TimestampModeDrift flags mixed timestamp modes across runs.
type TimestampModeDrift struct {
	Values       []string `json:"values"`
	Inconsistent bool     `json:"inconsistent"`
}

// HotPath is one high-churn path with its occurrence count.
type HotPath struct {
	Path  string `json:"path"`
	Count int    `json:"count"`
}

// HotPaths is churn evidence derived from allowlist-diff artifacts,
// UNKNOWN when the evidence is missing or unparseable — never guessed.
type HotPaths struct {
	Status   string    `json:"status"`
	Reason   string    `json:"reason"`
	TopPaths []HotPath `json:"top_paths"`
}

// DriftIndicators groups the cross-run consistency checks.
type DriftIndicators struct {
	MissingRequiredFiles MissingRequiredFiles `json:"missing_required_files"`
	TimestampMode        TimestampModeDrift   `json:"timestamp_mode"`
	HotPaths             HotPaths             `json:"hot_paths"`
}

// SkippedLog is one log the capture stage skipped, keyed for the
// top-by-size listing.
type SkippedLog struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Reason string `json:"reason"`
}

// LogCaptureHealth summarizes repo/LOG_INDEX.json when the bundle
// carries one.
type LogCaptureHealth struct {
	IncludedCount        int            `json:"included_count"`
	SkippedCount         int            `json:"skipped_count"`
	SkipReasonsHistogram map[string]int `json:"skip_reasons_histogram"`
	TopSkippedBySize     []SkippedLog   `json:"top_skipped_by_size"`
	Status               string         `json:"status"`
	Reason               string         `json:"reason"`
}

// RunCoverage counts discovered runs and their summaries.
type RunCoverage struct {
	RunsFound         int      `json:"runs_found"`
	RunSummariesFound int      `json:"run_summaries_found"`
	MissingSummaries  []string `json:"missing_summaries"`
}

// Findings is the CASE_FINDINGS.json payload.
type Findings struct {
	SchemaVersion       string              `json:"schema_version"`
	CaseID              string              `json:"case_id"`
	GeneratedAt         string              `json:"generated_at"`
	TimestampMode       string              `json:"timestamp_mode"`
	Integrity           bundle.Integrity    `json:"integrity"`
	RunCoverage         RunCoverage         `json:"run_coverage"`
	VerificationHygiene VerificationHygiene `json:"verification_hygiene"`
	FailureSignatures   FailureSignatures   `json:"failure_signatures"`
	DriftIndicators     DriftIndicators     `json:"drift_indicators"`
	LogCaptureHealth    LogCaptureHealth    `json:"log_capture_health"`
}

// Result holds the paths of the three audit outputs.
type Result struct {
	FindingsPath        string
	ReportPath          string
	RecommendationsPath string
}

// runSummary is a tolerantly loaded RUN_SUMMARY.json.
type runSummary struct {
	runID   string
	data    map[string]any
	missing bool
}

// Audit audits an ingested case directory and writes the findings,
// report, and recommendations atomically into outputDir.
func Audit(caseDir, outputDir, timestampMode string) (*Result, error) {
	generatedAt, err := artifacts.Timestamp(timestampMode)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(caseDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("case directory not found: %s", caseDir)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	caseID, integrity := loadCaseIndex(caseDir)

	runDirs := discoverRuns(caseDir)
	all := make([]runSummary, 0, len(runDirs))
	for _, runDir := range runDirs {
		all = append(all, loadRunSummary(runDir))
	}
	var summaries []runSummary
	var missingSummaries []string
	for _, summary := range all {
		if summary.missing {
			missingSummaries = append(missingSummaries, summary.runID)
			continue
		}
		summaries = append(summaries, summary)
	}
	sort.Strings(missingSummaries)
	if missingSummaries == nil {
		missingSummaries = []string{}
	}

	findings := &Findings{
		SchemaVersion: findingsSchemaVersion,
		CaseID:        caseID,
		GeneratedAt:   generatedAt,
		TimestampMode: timestampMode,
		Integrity:     integrity,
		RunCoverage: RunCoverage{
			RunsFound:         len(runDirs),
			RunSummariesFound: len(summaries),
			MissingSummaries:  missingSummaries,
		},
		VerificationHygiene: detectVerificationGaps(summaries),
		FailureSignatures: FailureSignatures{
			Anomalies: aggregateAnomalies(summaries),
		},
		DriftIndicators:  computeDriftIndicators(caseDir, runDirs, summaries),
		LogCaptureHealth: computeLogCaptureHealth(caseDir),
	}
	aggregateClaims(summaries, &findings.FailureSignatures)

	findingsPath := filepath.Join(outputDir, FindingsFilename)
	if err := artifacts.WriteJSON(findingsPath, findings); err != nil {
		return nil, err
	}
	reportPath := filepath.Join(outputDir, ReportFilename)
	if err := artifacts.AtomicWriteText(reportPath, renderReport(findings)); err != nil {
		return nil, err
	}
	recommendationsPath := filepath.Join(outputDir, RecommendationsFilename)
	if err := writeRecommendations(recommendationsPath, caseDir, findings); err != nil {
		return nil, err
	}

	return &Result{
		FindingsPath:        findingsPath,
		ReportPath:          reportPath,
		RecommendationsPath: recommendationsPath,
	}, nil
}

// loadCaseIndex reads the ingest output when present. A missing index
// yields an UNKNOWN integrity block with a diagnostic mismatch entry.
func loadCaseIndex(caseDir string) (string, bundle.Integrity) {
	caseID := filepath.Base(caseDir)
	raw, err := os.ReadFile(filepath.Join(caseDir, bundle.CaseIndexFilename))
	if err != nil {
		return caseID, bundle.Integrity{
			Status:          "UNKNOWN",
			MismatchesCount: 1,
			Mismatches: []bundle.Mismatch{{
				Code:    "case_index_missing",
				Path:    bundle.CaseIndexFilename,
				Message: "Ingest output missing; request a fresh ingest run.",
			}},
		}
	}

	var index bundle.CaseIndex
	if err := json.Unmarshal(raw, &index); err != nil {
		return caseID, bundle.Integrity{Status: "UNKNOWN", Mismatches: []bundle.Mismatch{}}
	}
	if index.CaseID != "" {
		caseID = index.CaseID
	}
	integrity := index.Integrity
	if integrity.Status == "" {
		integrity.Status = "UNKNOWN"
	}
	if integrity.Mismatches == nil {
		integrity.Mismatches = []bundle.Mismatch{}
	}
	if integrity.MismatchesCount == 0 {
		integrity.MismatchesCount = len(integrity.Mismatches)
	}
	return caseID, integrity
}

func discoverRuns(caseDir string) []string {
	entries, err := os.ReadDir(filepath.Join(caseDir, "taskpack", "runs"))
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(caseDir, "taskpack", "runs", entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs
}

func loadRunSummary(runDir string) runSummary {
	summary := runSummary{runID: filepath.Base(runDir)}
	raw, err := os.ReadFile(filepath.Join(runDir, "RUN_SUMMARY.json"))
	if err != nil {
		summary.missing = true
		return summary
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		summary.missing = true
		return summary
	}
	if id, ok := data["run_id"].(string); ok && id != "" {
		summary.runID = id
	}
	summary.data = data
	return summary
}

// aggregateAnomalies groups anomaly strings by exact text, counting the
// runs each appears in, sorted by descending count then text.
func aggregateAnomalies(summaries []runSummary) Anomalies {
	byText := map[string]map[string]bool{}
	for _, summary := range summaries {
		status, ok := summary.data["status"].(map[string]any)
		if !ok {
			continue
		}
		anomalies, ok := status["anomalies"].([]any)
		if !ok {
			continue
		}
		for _, raw := range anomalies {
			text, ok := raw.(string)
			if !ok {
				continue
			}
			if byText[text] == nil {
				byText[text] = map[string]bool{}
			}
			byText[text][summary.runID] = true
		}
	}

	top := countEntries(byText, 1)
	return Anomalies{
		TotalUnique: len(byText),
		Top:         topN(top, 10),
	}
}

// aggregateClaims counts claims by the fixed taxonomy and surfaces
// recurring test_failed and repeated unknown claim texts.
func aggregateClaims(summaries []runSummary, out *FailureSignatures) {
	counts := map[string]int{}
	for _, claimType := range claimTypes {
		counts[claimType] = 0
	}
	failed := map[string]map[string]bool{}
	unknown := map[string]map[string]bool{}

	for _, summary := range summaries {
		claims, ok := summary.data["claims"].(map[string]any)
		if !ok {
			continue
		}
		items, ok := claims["items"].([]any)
		if !ok {
			continue
		}
		for _, raw := range items {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			claimType, _ := item["claim_type"].(string)
			if _, known := counts[claimType]; known {
				counts[claimType]++
			} else {
				counts["unknown"]++
			}

			text, ok := item["text"].(string)
			if !ok || text == "" {
				continue
			}
			switch claimType {
			case "test_failed":
				if failed[text] == nil {
					failed[text] = map[string]bool{}
				}
				failed[text][summary.runID] = true
			case "unknown":
				if unknown[text] == nil {
					unknown[text] = map[string]bool{}
				}
				unknown[text][summary.runID] = true
			}
		}
	}

	out.ClaimCountsByType = counts
	out.TopRecurringTestFailed = topN(countEntries(failed, 1), 10)
	out.RepeatedUnknownClaims = topN(countEntries(unknown, 2), 10)
}

// countEntries turns text→run-id-set maps into sorted count entries,
// keeping only texts seen in at least minRuns runs.
func countEntries(byText map[string]map[string]bool, minRuns int) []CountEntry {
	entries := []CountEntry{}
	for text, runIDs := range byText {
		if len(runIDs) < minRuns {
			continue
		}
		ids := make([]string, 0, len(runIDs))
		for id := range runIDs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		entries = append(entries, CountEntry{Text: text, Count: len(runIDs), RunIDs: ids})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Text < entries[j].Text
	})
	return entries
}

func topN(entries []CountEntry, n int) []CountEntry {
	if len(entries) > n {
		return entries[:n]
	}
	return entries
}

func detectVerificationGaps(summaries []runSummary) VerificationHygiene {
	total := len(summaries)
	if total == 0 {
		return VerificationHygiene{TopAnomalies: []string{}}
	}

	checklistFalse, commandsFalse, outputsFalse := 0, 0, 0
	for _, summary := range summaries {
		status, ok := summary.data["status"].(map[string]any)
		if !ok {
			checklistFalse++
			commandsFalse++
			outputsFalse++
			continue
		}
		if !boolField(status, "checklist_completed") {
			checklistFalse++
		}
		if !boolField(status, "verification_commands_listed") {
			commandsFalse++
		}
		if !boolField(status, "verification_outputs_present") {
			outputsFalse++
		}
	}

	topAnomalies := []string{}
	for _, entry := range aggregateAnomalies(summaries).Top {
		topAnomalies = append(topAnomalies, entry.Text)
	}

	return VerificationHygiene{
		RunsWithSummaries:              total,
		PctChecklistIncomplete:         pct(checklistFalse, total),
		PctVerificationCommandsMissing: pct(commandsFalse, total),
		PctVerificationOutputsMissing:  pct(outputsFalse, total),
		TopAnomalies:                   topAnomalies,
	}
}

func boolField(obj map[string]any, key string) bool {
	value, ok := obj[key].(bool)
	return ok && value
}

// pct rounds a ratio to a 2-decimal percentage.
func pct(part, total int) float64 {
	return math.Round(float64(part)/float64(total)*100.0*100.0) / 100.0
}

func computeDriftIndicators(caseDir string, runDirs []string, summaries []runSummary) DriftIndicators {
	missingByRun := []MissingByRun{}
	missingCounts := map[string]int{}
	for _, runDir := range runDirs {
		var missing []string
		for _, name := range requiredRunFiles {
			if _, err := os.Stat(filepath.Join(runDir, name)); err != nil {
				missing = append(missing, name)
				missingCounts[name]++
			}
		}
		if len(missing) > 0 {
			missingByRun = append(missingByRun, MissingByRun{
				RunID:        filepath.Base(runDir),
				MissingFiles: missing,
			})
		}
	}

	modes := map[string]bool{}
	for _, summary := range summaries {
		if mode, ok := summary.data["timestamp_mode"].(string); ok {
			modes[mode] = true
		}
	}
	values := make([]string, 0, len(modes))
	for mode := range modes {
		values = append(values, mode)
	}
	sort.Strings(values)

	return DriftIndicators{
		MissingRequiredFiles: MissingRequiredFiles{
			Required:      requiredRunFiles,
			MissingByRun:  missingByRun,
			MissingCounts: missingCounts,
		},
		TimestampMode: TimestampModeDrift{
			Values:       values,
			Inconsistent: len(values) > 1,
		},
		HotPaths: computeHotPaths(runDirs),
	}
}

// computeHotPaths derives churn concentration from per-run
// ALLOWLIST_DIFF.json artifacts when present.
func computeHotPaths(runDirs []string) HotPaths {
	var diffPaths []string
	for _, runDir := range runDirs {
		path := filepath.Join(runDir, "ALLOWLIST_DIFF.json")
		if _, err := os.Stat(path); err == nil {
			diffPaths = append(diffPaths, path)
		}
	}
	if len(diffPaths) == 0 {
		return HotPaths{
			Status:   "UNKNOWN",
			Reason:   "ALLOWLIST_DIFF.json not present in bundle",
			TopPaths: []HotPath{},
		}
	}

	counter := map[string]int{}
	for _, diffPath := range diffPaths {
		raw, err := os.ReadFile(diffPath)
		if err != nil {
			continue
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			continue
		}
		for _, path := range extractPathStrings(payload) {
			counter[path]++
		}
	}
	if len(counter) == 0 {
		return HotPaths{
			Status:   "UNKNOWN",
			Reason:   "ALLOWLIST_DIFF.json did not contain parseable path fields",
			TopPaths: []HotPath{},
		}
	}

	paths := make([]HotPath, 0, len(counter))
	for path, count := range counter {
		paths = append(paths, HotPath{Path: path, Count: count})
	}
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Count != paths[j].Count {
			return paths[i].Count > paths[j].Count
		}
		return paths[i].Path < paths[j].Path
	})
	if len(paths) > 10 {
		paths = paths[:10]
	}
	return HotPaths{
		Status:   "available",
		Reason:   "derived from ALLOWLIST_DIFF.json",
		TopPaths: paths,
	}
}

// extractPathStrings recursively pulls likely file path strings out of
// arbitrary JSON-shaped data: values under path / file / filepath keys.
func extractPathStrings(data any) []string {
	var found []string
	switch value := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := value[key]
			if key == "path" || key == "file" || key == "filepath" {
				if s, ok := child.(string); ok {
					found = append(found, s)
					continue
				}
			}
			found = append(found, extractPathStrings(child)...)
		}
	case []any:
		for _, item := range value {
			found = append(found, extractPathStrings(item)...)
		}
	}
	return found
}

func computeLogCaptureHealth(caseDir string) LogCaptureHealth {
	raw, err := os.ReadFile(filepath.Join(caseDir, "repo", "LOG_INDEX.json"))
	if err != nil {
		return LogCaptureHealth{
			SkipReasonsHistogram: map[string]int{},
			TopSkippedBySize:     []SkippedLog{},
			Status:               "UNKNOWN",
			Reason:               "repo/LOG_INDEX.json missing",
		}
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return LogCaptureHealth{
			SkipReasonsHistogram: map[string]int{},
			TopSkippedBySize:     []SkippedLog{},
			Status:               "UNKNOWN",
			Reason:               "repo/LOG_INDEX.json unparseable",
		}
	}

	included, _ := payload["included"].([]any)
	skipped, _ := payload["skipped"].([]any)

	reasons := map[string]int{}
	withSize := []SkippedLog{}
	for _, raw := range skipped {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		reason, _ := item["reason"].(string)
		if reason != "" {
			reasons[reason]++
		}

		size, sized := item["size"].(float64)
		if !sized {
			size, sized = item["size_bytes"].(float64)
		}
		if sized {
			path, _ := item["path"].(string)
			if path == "" {
				path = "UNKNOWN"
			}
			withSize = append(withSize, SkippedLog{Path: path, Size: int64(size), Reason: reason})
		}
	}
	sort.Slice(withSize, func(i, j int) bool {
		if withSize[i].Size != withSize[j].Size {
			return withSize[i].Size > withSize[j].Size
		}
		return withSize[i].Path < withSize[j].Path
	})
	if len(withSize) > 10 {
		withSize = withSize[:10]
	}

	return LogCaptureHealth{
		IncludedCount:        len(included),
		SkippedCount:         len(skipped),
		SkipReasonsHistogram: reasons,
		TopSkippedBySize:     withSize,
		Status:               "available",
		Reason:               "repo/LOG_INDEX.json",
	}
}
