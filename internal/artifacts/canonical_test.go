package artifacts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCanonicalDumps(t *testing.T) {
	t.Run("sorted keys and trailing newline", func(t *testing.T) {
		out, err := CanonicalDumps(map[string]any{"beta": 2, "alpha": 1})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		want := "{\n  \"alpha\": 1,\n  \"beta\": 2\n}\n"
		if out != want {
			t.Errorf("CanonicalDumps() = %q, want %q", out, want)
		}
	})

	t.Run("byte identical for semantically equal input", func(t *testing.T) {
		a, err := CanonicalDumps(map[string]any{"x": []any{1, "two"}, "y": nil})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		b, err := CanonicalDumps(map[string]any{"y": nil, "x": []any{1, "two"}})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		if a != b {
			t.Errorf("outputs differ:\n%s\n%s", a, b)
		}
	})

	t.Run("structs serialize with sorted json tags", func(t *testing.T) {
		type sample struct {
			Zed   string `json:"zed"`
			Alpha int    `json:"alpha"`
		}
		out, err := CanonicalDumps(sample{Zed: "z", Alpha: 7})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		if !strings.HasPrefix(out, "{\n  \"alpha\": 7") {
			t.Errorf("keys not sorted: %q", out)
		}
	})

	t.Run("integers keep integer formatting", func(t *testing.T) {
		out, err := CanonicalDumps(map[string]any{"n": 1000000})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		if !strings.Contains(out, "1000000") {
			t.Errorf("integer reformatted: %q", out)
		}
	})

	t.Run("no html escaping", func(t *testing.T) {
		out, err := CanonicalDumps(map[string]any{"cmd": "a < b && c"})
		if err != nil {
			t.Fatalf("CanonicalDumps() error = %v", err)
		}
		if !strings.Contains(out, "a < b && c") {
			t.Errorf("string was escaped: %q", out)
		}
	})
}

func TestSHA256(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	fileSum, err := SHA256File(path)
	if err != nil {
		t.Fatalf("SHA256File() error = %v", err)
	}
	if textSum := SHA256Text("hello"); fileSum != textSum {
		t.Errorf("file hash %s != text hash %s", fileSum, textSum)
	}
	if bytesSum := SHA256Bytes([]byte("hello")); fileSum != bytesSum {
		t.Errorf("file hash %s != bytes hash %s", fileSum, bytesSum)
	}
}

func TestWriteJSON(t *testing.T) {
	t.Run("atomic write leaves no temp files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "OUT.json")
		if err := WriteJSON(path, map[string]any{"ok": true}); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		if len(entries) != 1 || entries[0].Name() != "OUT.json" {
			t.Errorf("unexpected directory contents: %v", entries)
		}
	})

	t.Run("rewrite is byte identical", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "OUT.json")
		payload := map[string]any{"b": []string{"x"}, "a": 1}

		if err := WriteJSON(path, payload); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
		first, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read first: %v", err)
		}

		if err := WriteJSON(path, payload); err != nil {
			t.Fatalf("WriteJSON() rerun error = %v", err)
		}
		second, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read second: %v", err)
		}
		if string(first) != string(second) {
			t.Errorf("rewrite changed bytes:\n%s\n%s", first, second)
		}
	})
}

func TestWriteIndex(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"ROUTE_PLAN.json": "{\"steps\": []}\n",
		"RUN_REPORT.json": "{\"status\": \"ok\"}\n",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}

	index, err := WriteIndex(dir)
	if err != nil {
		t.Fatalf("WriteIndex() error = %v", err)
	}

	if len(index.Artifacts) != 2 {
		t.Fatalf("expected 2 artifacts, got %d", len(index.Artifacts))
	}
	if index.Artifacts[0].Name != "ROUTE_PLAN.json" || index.Artifacts[1].Name != "RUN_REPORT.json" {
		t.Errorf("artifacts not sorted by name: %+v", index.Artifacts)
	}

	for _, entry := range index.Artifacts {
		if entry.Name == IndexFilename {
			t.Errorf("index references itself")
		}
		fresh, err := SHA256File(filepath.Join(dir, entry.Path))
		if err != nil {
			t.Fatalf("rehash %s: %v", entry.Path, err)
		}
		if fresh != entry.SHA256 {
			t.Errorf("stale hash for %s", entry.Name)
		}
	}
}
