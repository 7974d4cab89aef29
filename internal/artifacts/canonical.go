// Package artifacts provides deterministic JSON serialization, content
// hashing, and atomic file writes. Every artifact taskpack emits goes
// through this package so that reruns produce byte-identical output.
package artifacts

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// hashChunkSize is the read size used when streaming file content into
// the hash. All callers hash with the same chunking so digests match.
const hashChunkSize = 1 << 20

// CanonicalDumps serializes v as canonical JSON: object keys sorted at
// every level, 2-space indentation, UTF-8 without HTML escaping, and a
// trailing newline. Semantically equal inputs always produce identical
// bytes.
func CanonicalDumps(v any) (string, error) {
	normalized, err := normalize(v)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if err := encodeCanonical(&b, normalized, 0); err != nil {
		return "", err
	}
	b.WriteByte('\n')
	return b.String(), nil
}

// WriteJSON writes v to path as canonical JSON via a temp file and
// rename, so a partial write is never observable.
func WriteJSON(path string, v any) error {
	text, err := CanonicalDumps(v)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", filepath.Base(path), err)
	}
	return AtomicWriteText(path, text)
}

// AtomicWriteText writes content to path atomically (temp file in the
// same directory, sync, rename).
func AtomicWriteText(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if _, err := io.WriteString(tmpFile, content); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// SHA256File streams path through SHA-256 and returns the hex digest.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	digest := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(digest, f, buf); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

// SHA256Text returns the hex SHA-256 digest of text.
func SHA256Text(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the hex SHA-256 digest of data.
func SHA256Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// normalize round-trips v through encoding/json into a generic value
// tree. Numbers are kept as json.Number so integers never pick up
// exponent or locale formatting.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	return out, nil
}

func encodeCanonical(b *strings.Builder, v any, depth int) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(val.String())
	case string:
		return encodeString(b, val)
	case []any:
		return encodeArray(b, val, depth)
	case map[string]any:
		return encodeObject(b, val, depth)
	default:
		return fmt.Errorf("unsupported canonical value type %T", v)
	}
	return nil
}

func encodeArray(b *strings.Builder, arr []any, depth int) error {
	if len(arr) == 0 {
		b.WriteString("[]")
		return nil
	}
	b.WriteString("[\n")
	for i, item := range arr {
		writeIndent(b, depth+1)
		if err := encodeCanonical(b, item, depth+1); err != nil {
			return err
		}
		if i < len(arr)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	writeIndent(b, depth)
	b.WriteByte(']')
	return nil
}

func encodeObject(b *strings.Builder, obj map[string]any, depth int) error {
	if len(obj) == 0 {
		b.WriteString("{}")
		return nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("{\n")
	for i, k := range keys {
		writeIndent(b, depth+1)
		if err := encodeString(b, k); err != nil {
			return err
		}
		b.WriteString(": ")
		if err := encodeCanonical(b, obj[k], depth+1); err != nil {
			return err
		}
		if i < len(keys)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	writeIndent(b, depth)
	b.WriteByte('}')
	return nil
}

func encodeString(b *strings.Builder, s string) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode string: %w", err)
	}
	// Encode appends a newline; the canonical layout manages its own.
	b.WriteString(strings.TrimSuffix(buf.String(), "\n"))
	return nil
}

func writeIndent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString("  ")
	}
}
