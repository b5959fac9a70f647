package detector

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// reuseSlack is the tolerance when comparing a process start time against
// the PID file's modification time. The file is written right after the
// child is spawned, so a process that started noticeably later holds a
// recycled PID.
const reuseSlack = 2

// PIDFileDetector detects a service via a PID file containing a bare
// decimal PID.
type PIDFileDetector struct {
	PIDFile string
}

// Check returns the PID recorded in the file and whether that PID still
// refers to the originally launched process. A missing file yields (0,
// false, nil); unparseable content yields an error.
func (d PIDFileDetector) Check() (int, bool, error) {
	data, err := os.ReadFile(d.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, false, fmt.Errorf("invalid pid in %s: %w", d.PIDFile, err)
	}
	if !PIDAlive(pid) {
		return pid, false, nil
	}
	// Guard against PID reuse: a live process that was born after the
	// PID file was written cannot be the one we recorded.
	if fi, err := os.Stat(d.PIDFile); err == nil {
		if st := StartTime(pid); st > 0 && st > fi.ModTime().Unix()+reuseSlack {
			return pid, false, nil
		}
	}
	return pid, true, nil
}

func (d PIDFileDetector) Alive() (bool, error) {
	_, alive, err := d.Check()
	return alive, err
}

func (d PIDFileDetector) Describe() string { return "pidfile:" + d.PIDFile }

// PIDDetector detects by a provided PID number.
type PIDDetector struct{ PID int }

func (d PIDDetector) Alive() (bool, error) { return PIDAlive(d.PID), nil }
func (d PIDDetector) Describe() string     { return fmt.Sprintf("pid:%d", d.PID) }
