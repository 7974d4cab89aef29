package bundle

import "errors"

// Sentinel errors for bundle ingestion. Integrity mismatches are never
// errors; these cover tooling faults and rejected archives only.
var (
	// ErrBundleNotFound reports a missing bundle zip.
	ErrBundleNotFound = errors.New("bundle zip not found")

	// ErrUnsafeArchive reports a zip entry with an absolute path, a
	// path-traversal segment, or a symlink. The whole ingest is
	// rejected; no payload bytes reach the output directory.
	ErrUnsafeArchive = errors.New("unsafe zip entry")

	// ErrManifestMissing reports a bundle without case/CASE_MANIFEST.json.
	ErrManifestMissing = errors.New("CASE_MANIFEST.json missing")
)
