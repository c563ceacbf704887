// write_test.go tests [Write], [WriteJSON] and [ReadJSON] for basic
// correctness, overwrite semantics, and cleanup of temp files on failure.

package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")

	if err := Write(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}

func TestWriteOverwriteExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overwrite.txt")

	if err := Write(path, []byte("original"), 0o644); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := Write(path, []byte("updated"), 0o644); err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "updated" {
		t.Errorf("content = %q, want %q", got, "updated")
	}
}

func TestWriteCleanupOnFailure(t *testing.T) {
	root := t.TempDir()
	badPath := filepath.Join(root, "no-such-dir", "file.txt")

	if err := Write(badPath, []byte("data"), 0o644); err == nil {
		t.Fatal("expected error writing to non-existent directory")
	}
	entries, _ := os.ReadDir(root)
	for _, e := range entries {
		if matched, _ := filepath.Match("file.txt.tmp.*", e.Name()); matched {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

// ///////////////////////////////////////////////
// JSON Helpers
// ///////////////////////////////////////////////

func TestWriteJSONCreatesParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := map[string]string{"coding_last_session_start": "2026-10-19T10:00:00Z"}

	if err := WriteJSON(path, in, 0o600); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}

	var out map[string]string
	found, err := ReadJSON(path, &out)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if !found {
		t.Fatal("ReadJSON reported missing file")
	}
	if out["coding_last_session_start"] != in["coding_last_session_start"] {
		t.Errorf("round trip = %v, want %v", out, in)
	}
}

func TestReadJSONMissing(t *testing.T) {
	var out map[string]string
	found, err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &out)
	if err != nil {
		t.Fatalf("ReadJSON on missing file: %v", err)
	}
	if found {
		t.Error("found = true for missing file")
	}
}

func TestReadJSONMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{nope"), 0o644)

	var out map[string]string
	if _, err := ReadJSON(path, &out); err == nil {
		t.Error("expected error for malformed JSON")
	}
}
