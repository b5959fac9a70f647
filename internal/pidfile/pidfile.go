package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// A PID file holds a single decimal PID and nothing else. It is the only
// durable state the supervisor keeps: liveness is always re-derived from
// the OS, never from the file alone.

// Write persists pid to path, creating the parent directory if needed.
func Write(path string, pid int) error {
	if path == "" {
		return fmt.Errorf("empty pidfile path")
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d for %s", pid, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

// Read returns the PID stored at path. A missing file yields os.ErrNotExist;
// unparseable content yields an error with the offending path.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("invalid pid in %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	return pid, nil
}

// Remove deletes the PID file. Removing an absent file is not an error.
func Remove(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// Exists reports whether a PID file is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
