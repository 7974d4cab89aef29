// Package bundle ingests case bundle zips: hardened extraction, file
// indexing, and manifest-versus-payload integrity verification. The
// verifier never trusts a declared hash for anything but comparison;
// it always recomputes from bytes on disk.
package bundle

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/taskpack/taskpack/internal/artifacts"
)

const (
	// manifestRelPath locates the manifest inside an extracted bundle.
	manifestRelPath = "case/CASE_MANIFEST.json"

	// CaseIndexFilename is the integrity index written into the case dir.
	CaseIndexFilename = "CASE_INDEX.json"

	// IngestReportFilename is the human-readable ingest summary.
	IngestReportFilename = "CASE_INGEST_REPORT.md"

	caseIndexSchemaVersion = "1.0"
)

// Mismatch is one integrity discrepancy between the manifest and the
// extracted payload.
type Mismatch struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Integrity is the verification verdict: passed iff no mismatches.
type Integrity struct {
	Status          string     `json:"status"`
	MismatchesCount int        `json:"mismatches_count"`
	Mismatches      []Mismatch `json:"mismatches"`
}

// FileEntry describes one extracted regular file.
type FileEntry struct {
	Path      string `json:"path"`
	SHA256    string `json:"sha256"`
	SizeBytes int64  `json:"size_bytes"`
	Category  string `json:"category"`
}

// IndexCounts summarizes the extracted payload.
type IndexCounts struct {
	FilesTotal   int `json:"files_total"`
	LogsIncluded int `json:"logs_included"`
	LogsSkipped  int `json:"logs_skipped"`
	RunDirs      int `json:"run_dirs"`
	Packets      int `json:"packets"`
}

// CaseIndex is the CASE_INDEX.json payload.
type CaseIndex struct {
	SchemaVersion string      `json:"schema_version"`
	CaseID        string      `json:"case_id"`
	IngestedAt    string      `json:"ingested_at"`
	Integrity     Integrity   `json:"integrity"`
	Counts        IndexCounts `json:"counts"`
	Files         []FileEntry `json:"files"`
}

// Result is what one ingest produced.
type Result struct {
	CaseDir         string
	CaseIndexPath   string
	IngestReport    string
	IntegrityStatus string
}

// Ingest extracts a bundle zip under outputDir, verifies it against its
// manifest, and writes CASE_INDEX.json plus CASE_INGEST_REPORT.md into
// the case directory.
func Ingest(zipPath, outputDir, timestampMode string) (*Result, error) {
	ingestedAt, err := artifacts.Timestamp(timestampMode)
	if err != nil {
		return nil, err
	}

	caseDir, err := extract(zipPath, outputDir)
	if err != nil {
		return nil, err
	}

	manifest, err := loadManifest(caseDir)
	if err != nil {
		return nil, err
	}

	integrity, err := verifyIntegrity(caseDir, manifest)
	if err != nil {
		return nil, err
	}

	caseID := filepath.Base(caseDir)
	if id, ok := manifest["case_id"].(string); ok && id != "" {
		caseID = id
	}

	index, err := buildCaseIndex(caseDir, caseID, ingestedAt, integrity)
	if err != nil {
		return nil, err
	}

	indexPath := filepath.Join(caseDir, CaseIndexFilename)
	if err := artifacts.WriteJSON(indexPath, index); err != nil {
		return nil, err
	}
	reportPath := filepath.Join(caseDir, IngestReportFilename)
	if err := artifacts.AtomicWriteText(reportPath, renderIngestReport(index)); err != nil {
		return nil, err
	}

	return &Result{
		CaseDir:         caseDir,
		CaseIndexPath:   indexPath,
		IngestReport:    reportPath,
		IntegrityStatus: integrity.Status,
	}, nil
}

// extract unpacks the zip into a uuid-named staging directory and
// promotes it to <outputDir>/<zip stem> only after every entry passed
// the safety checks. A violation discards the staging dir wholesale.
func extract(zipPath, outputDir string) (string, error) {
	if _, err := os.Stat(zipPath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrBundleNotFound, zipPath)
		}
		return "", fmt.Errorf("stat bundle: %w", err)
	}

	archive, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open bundle: %w", err)
	}
	defer archive.Close() //nolint:errcheck // read-only handle

	staging := filepath.Join(outputDir, ".ingest-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	for _, entry := range archive.File {
		if err := extractEntry(staging, entry); err != nil {
			os.RemoveAll(staging) //nolint:errcheck // best-effort discard
			return "", err
		}
	}

	stem := strings.TrimSuffix(filepath.Base(zipPath), filepath.Ext(zipPath))
	caseDir := filepath.Join(outputDir, stem)
	if err := os.RemoveAll(caseDir); err != nil {
		os.RemoveAll(staging) //nolint:errcheck // best-effort discard
		return "", fmt.Errorf("clear case dir: %w", err)
	}
	if err := os.Rename(staging, caseDir); err != nil {
		os.RemoveAll(staging) //nolint:errcheck // best-effort discard
		return "", fmt.Errorf("promote staging dir: %w", err)
	}
	return caseDir, nil
}

func extractEntry(staging string, entry *zip.File) error {
	if err := checkEntrySafety(entry); err != nil {
		return err
	}

	target := filepath.Join(staging, filepath.FromSlash(entry.Name))
	if entry.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create payload dir: %w", err)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", entry.Name, err)
	}
	defer rc.Close() //nolint:errcheck // read-only handle

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create payload file: %w", err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return out.Close()
}

// checkEntrySafety rejects absolute paths, traversal segments, and
// symlinks before any bytes are written for the entry.
func checkEntrySafety(entry *zip.File) error {
	name := entry.Name
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrUnsafeArchive, name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return fmt.Errorf("%w: path traversal in %q", ErrUnsafeArchive, name)
		}
	}
	if entry.FileInfo().Mode()&fs.ModeSymlink != 0 {
		return fmt.Errorf("%w: symlink %q", ErrUnsafeArchive, name)
	}
	return nil
}

func loadManifest(caseDir string) (map[string]any, error) {
	path := filepath.Join(caseDir, filepath.FromSlash(manifestRelPath))
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w in %s", ErrManifestMissing, caseDir)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest any
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	obj, ok := manifest.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse manifest: %s must contain a JSON object", manifestRelPath)
	}
	return obj, nil
}

// verifyIntegrity cross-checks every manifest file entry against the
// extracted payload and flags payload files the manifest omits. The
// manifest file itself is exempt from the unexpected-file check.
func verifyIntegrity(caseDir string, manifest map[string]any) (Integrity, error) {
	mismatches := []Mismatch{}
	if schemaMismatch := validateManifestSchema(any(manifest)); schemaMismatch != nil {
		mismatches = append(mismatches, *schemaMismatch)
	}

	declared := map[string]bool{}
	entries, entriesOK := manifestEntries(manifest)
	if !entriesOK {
		mismatches = append(mismatches, Mismatch{
			Code:    "manifest_files_invalid",
			Path:    manifestRelPath,
			Message: "`files` field must be a list when provided.",
		})
	}

	for _, raw := range entries {
		entry, ok := raw.(map[string]any)
		if !ok {
			mismatches = append(mismatches, Mismatch{
				Code:    "manifest_entry_invalid",
				Path:    manifestRelPath,
				Message: "Manifest file entry is not an object.",
			})
			continue
		}

		relPath, ok := entry["path"].(string)
		if !ok || relPath == "" {
			mismatches = append(mismatches, Mismatch{
				Code:    "manifest_path_invalid",
				Path:    manifestRelPath,
				Message: "Manifest file entry missing `path`.",
			})
			continue
		}
		declared[relPath] = true

		target := filepath.Join(caseDir, filepath.FromSlash(relPath))
		info, err := os.Stat(target)
		if err != nil || !info.Mode().IsRegular() {
			mismatches = append(mismatches, Mismatch{
				Code:    "missing_file",
				Path:    relPath,
				Message: "File listed in manifest is missing from bundle payload.",
			})
			continue
		}

		if expectedSHA, ok := entry["sha256"].(string); ok {
			actualSHA, err := artifacts.SHA256File(target)
			if err != nil {
				return Integrity{}, err
			}
			if actualSHA != expectedSHA {
				mismatches = append(mismatches, Mismatch{
					Code:    "sha256_mismatch",
					Path:    relPath,
					Message: fmt.Sprintf("Expected %s, got %s.", expectedSHA, actualSHA),
				})
			}
		}

		if expectedSize, ok := entry["size_bytes"].(float64); ok {
			if info.Size() != int64(expectedSize) {
				mismatches = append(mismatches, Mismatch{
					Code:    "size_mismatch",
					Path:    relPath,
					Message: fmt.Sprintf("Expected %d bytes, got %d.", int64(expectedSize), info.Size()),
				})
			}
		}
	}

	payload, err := listPayloadFiles(caseDir)
	if err != nil {
		return Integrity{}, err
	}
	for _, rel := range payload {
		if rel == manifestRelPath || declared[rel] {
			continue
		}
		mismatches = append(mismatches, Mismatch{
			Code:    "unexpected_file",
			Path:    rel,
			Message: "File present in bundle payload but absent from manifest.",
		})
	}

	status := "passed"
	if len(mismatches) > 0 {
		status = "failed"
	}
	return Integrity{
		Status:          status,
		MismatchesCount: len(mismatches),
		Mismatches:      mismatches,
	}, nil
}

func manifestEntries(manifest map[string]any) ([]any, bool) {
	raw, present := manifest["files"]
	if !present {
		return nil, true
	}
	entries, ok := raw.([]any)
	return entries, ok
}

// listPayloadFiles returns the posix-relative paths of every regular
// file under caseDir, sorted by the directory walk order.
func listPayloadFiles(caseDir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(caseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(caseDir, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk case dir: %w", err)
	}
	return paths, nil
}

func buildCaseIndex(caseDir, caseID, ingestedAt string, integrity Integrity) (*CaseIndex, error) {
	payload, err := listPayloadFiles(caseDir)
	if err != nil {
		return nil, err
	}

	files := make([]FileEntry, 0, len(payload))
	logsIncluded := 0
	for _, rel := range payload {
		target := filepath.Join(caseDir, filepath.FromSlash(rel))
		sha, err := artifacts.SHA256File(target)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(target)
		if err != nil {
			return nil, fmt.Errorf("stat payload file: %w", err)
		}
		category := classifyPath(rel)
		if category == "repo_log" {
			logsIncluded++
		}
		files = append(files, FileEntry{
			Path:      rel,
			SHA256:    sha,
			SizeBytes: info.Size(),
			Category:  category,
		})
	}

	return &CaseIndex{
		SchemaVersion: caseIndexSchemaVersion,
		CaseID:        caseID,
		IngestedAt:    ingestedAt,
		Integrity:     integrity,
		Counts: IndexCounts{
			FilesTotal:   len(files),
			LogsIncluded: logsIncluded,
			LogsSkipped:  0,
			RunDirs:      countRunDirs(caseDir),
			Packets:      countPackets(caseDir),
		},
		Files: files,
	}, nil
}

// classifyPath buckets a payload path into a fixed category. Unmatched
// paths classify as unknown, never raise.
func classifyPath(rel string) string {
	switch {
	case rel == "taskpack/task_queue.json":
		return "task_queue"
	case strings.HasPrefix(rel, "taskpack/packets/"),
		strings.HasPrefix(rel, "taskpack/runs/") && strings.HasSuffix(rel, "/TASK_PACKET.md"):
		return "packet"
	case strings.HasPrefix(rel, "taskpack/runs/"):
		return "run_artifact"
	case rel == "repo/REPO_SNAPSHOT.json":
		return "repo_snapshot"
	case strings.HasPrefix(rel, "repo/logs/"), rel == "repo/LOG_INDEX.json":
		return "repo_log"
	case strings.HasPrefix(rel, "reports/"):
		return "report"
	default:
		return "unknown"
	}
}

func countRunDirs(caseDir string) int {
	entries, err := os.ReadDir(filepath.Join(caseDir, "taskpack", "runs"))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			count++
		}
	}
	return count
}

func countPackets(caseDir string) int {
	entries, err := os.ReadDir(filepath.Join(caseDir, "taskpack", "packets"))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			count++
		}
	}
	return count
}

func renderIngestReport(index *CaseIndex) string {
	lines := []string{
		"# Case Ingest Report",
		"",
		fmt.Sprintf("- case_id: `%s`", index.CaseID),
		fmt.Sprintf("- integrity_status: `%s`", index.Integrity.Status),
		fmt.Sprintf("- mismatches_count: `%d`", index.Integrity.MismatchesCount),
		"",
		"## Notes",
		"- CASE_INDEX.json was generated from extracted bundle payload.",
	}
	return strings.Join(lines, "\n") + "\n"
}
