package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// IndexFilename is the artifact index file written last into every run
// directory.
const IndexFilename = "ARTIFACT_INDEX.json"

// IndexEntry describes one sibling file recorded in the artifact index.
type IndexEntry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Index is the ARTIFACT_INDEX.json payload.
type Index struct {
	Artifacts []IndexEntry `json:"artifacts"`
}

// BuildIndex lists every regular file directly inside dir, excluding the
// index file itself, sorted by name, with a fresh hash per file.
func BuildIndex(dir string) (*Index, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read run dir: %w", err)
	}

	index := &Index{Artifacts: []IndexEntry{}}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == IndexFilename {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sha, err := SHA256File(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		index.Artifacts = append(index.Artifacts, IndexEntry{
			Name:   name,
			Path:   name,
			SHA256: sha,
		})
	}
	return index, nil
}

// WriteIndex builds and writes ARTIFACT_INDEX.json for dir. The index
// never references itself; call this after all other files are final.
func WriteIndex(dir string) (*Index, error) {
	index, err := BuildIndex(dir)
	if err != nil {
		return nil, err
	}
	if err := WriteJSON(filepath.Join(dir, IndexFilename), index); err != nil {
		return nil, err
	}
	return index, nil
}
