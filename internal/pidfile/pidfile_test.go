package pidfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "run", "api.pid")
	if err := Write(p, 12345); err != nil {
		t.Fatalf("Write: %v", err)
	}
	pid, err := Read(p)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if pid != 12345 {
		t.Fatalf("expected 12345, got %d", pid)
	}
	// File content is the bare decimal PID, nothing else.
	b, _ := os.ReadFile(p)
	if string(b) != "12345" {
		t.Fatalf("unexpected content %q", string(b))
	}
}

func TestReadMissing(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.pid"))
	if !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestReadInvalid(t *testing.T) {
	dir := t.TempDir()
	for _, content := range []string{"", "abc", "-3", "0"} {
		p := filepath.Join(dir, "bad.pid")
		if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := Read(p); err == nil {
			t.Fatalf("expected error for content %q", content)
		}
	}
}

func TestReadTrimsWhitespace(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ws.pid")
	if err := os.WriteFile(p, []byte(" 42\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, err := Read(p)
	if err != nil || pid != 42 {
		t.Fatalf("expected 42, got %d err=%v", pid, err)
	}
}

func TestWriteRejectsBadArgs(t *testing.T) {
	if err := Write("", 1); err == nil {
		t.Fatal("expected error for empty path")
	}
	if err := Write(filepath.Join(t.TempDir(), "x.pid"), 0); err == nil {
		t.Fatal("expected error for pid 0")
	}
}

func TestRemove(t *testing.T) {
	p := filepath.Join(t.TempDir(), "r.pid")
	if err := Write(p, 7); err != nil {
		t.Fatal(err)
	}
	if !Exists(p) {
		t.Fatal("expected file to exist")
	}
	if err := Remove(p); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if Exists(p) {
		t.Fatal("file should be gone")
	}
	// Removing again is a no-op.
	if err := Remove(p); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if err := Remove(""); err != nil {
		t.Fatalf("Remove empty path: %v", err)
	}
}
