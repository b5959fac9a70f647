package detector

import (
	"bytes"
	"errors"
	"os"
	"strconv"
	"syscall"
)

// Detector is a strategy that determines whether a service is running.
// Implementations must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// PIDAlive is a non-destructive liveness probe for a PID. EPERM counts as
// alive (the process exists, we just may not own it). On Linux a zombie is
// reported as not alive since it can never be signalled into stopping.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if isZombie(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// isZombie reports whether /proc/<pid>/status shows state Z. Always false
// on platforms without procfs.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
