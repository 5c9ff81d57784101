package transcript

import (
	"os"
	"path/filepath"
	"testing"
)

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(data); err != nil {
		t.Fatalf("failed to append: %v", err)
	}
}

func TestTailerCompleteLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	appendFile(t, path, "one\ntwo\n")

	tailer := NewTailer(path)
	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 2 || string(lines[0]) != "one" || string(lines[1]) != "two" {
		t.Fatalf("unexpected lines: %q", lines)
	}

	// Nothing new appended.
	lines, err = tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no new lines, got %q", lines)
	}
}

func TestTailerBuffersPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	tailer := NewTailer(path)

	appendFile(t, path, "ab")
	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("fragment emitted early: %q", lines)
	}

	appendFile(t, path, "c\n")
	lines, err = tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != "abc" {
		t.Fatalf("expected single line %q, got %q", "abc", lines)
	}
}

func TestTailerResetsOnRecreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	appendFile(t, path, "first run line one\nfirst run line two\n")

	tailer := NewTailer(path)
	if _, err := tailer.ReadNew(); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	// Recreate smaller, as a fresh agent run would.
	if err := os.Remove(path); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	appendFile(t, path, "new\n")

	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != "new" {
		t.Fatalf("expected reset read of new file, got %q", lines)
	}
}

func TestTailerStripsCarriageReturns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	appendFile(t, path, "line\r\n")

	tailer := NewTailer(path)
	lines, err := tailer.ReadNew()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != "line" {
		t.Fatalf("expected trimmed line, got %q", lines)
	}
}
