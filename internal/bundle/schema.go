package bundle

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// caseManifestSchema is the draft-07 contract for CASE_MANIFEST.json.
// Violations are recorded as integrity mismatches, never raised.
const caseManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Case bundle manifest",
  "type": "object",
  "required": ["case_id"],
  "properties": {
    "schema_version": {"type": "string"},
    "case_id": {"type": "string", "minLength": 1},
    "created_at": {"type": "string"},
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["path"],
        "properties": {
          "path": {"type": "string", "minLength": 1},
          "sha256": {"type": "string", "pattern": "^[0-9a-f]{64}$"},
          "size_bytes": {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var manifestSchema = jsonschema.MustCompileString("case_manifest.json", caseManifestSchema)

// validateManifestSchema checks a decoded manifest against the
// contract. A violation comes back as a schema_validation_failed
// mismatch; the cross-check still runs on whatever parses.
func validateManifestSchema(manifest any) *Mismatch {
	if err := manifestSchema.Validate(manifest); err != nil {
		return &Mismatch{
			Code:    "schema_validation_failed",
			Path:    manifestRelPath,
			Message: fmt.Sprintf("Manifest does not satisfy schema contract: %v", err),
		}
	}
	return nil
}
