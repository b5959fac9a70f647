package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dkwon/svcup/internal/logger"
)

// Default timing parameters. The graceful window matches what the source
// deployment used for its API server; individual entries override it.
const (
	DefaultGracefulTimeout    = 10 * time.Second
	DefaultStartupVerifyDelay = 2 * time.Second
)

// Entry describes one supervised service: how to launch it, where its PID
// file and output log live, and how patient the stop path is before
// escalating.
type Entry struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // command to start the service (shell-aware)
	WorkDir string   `json:"work_dir"` // optional working dir
	Env     []string `json:"env"`      // optional extra env, "K=V"
	PIDFile string   `json:"pid_file"` // decimal PID, sole persisted state

	// Log is the destination for the service's combined stdout+stderr.
	Log logger.Config `json:"log"`

	// HealthCheck optionally names a command that must exit zero for the
	// service to be considered up after launch (e.g. a curl probe).
	HealthCheck string `json:"health_check"`

	// GracefulTimeout bounds how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	GracefulTimeout time.Duration `json:"graceful_timeout"`

	// StartupVerifyDelay is the pause after launch before liveness is
	// confirmed.
	StartupVerifyDelay time.Duration `json:"startup_verify_delay"`
}

// ApplyDefaults fills zero timing fields with package defaults.
func (e *Entry) ApplyDefaults() {
	if e.GracefulTimeout <= 0 {
		e.GracefulTimeout = DefaultGracefulTimeout
	}
	if e.StartupVerifyDelay <= 0 {
		e.StartupVerifyDelay = DefaultStartupVerifyDelay
	}
}

// Validate checks the fields required to supervise the entry at all.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("entry requires name")
	}
	if strings.TrimSpace(e.Command) == "" {
		return fmt.Errorf("entry %s requires command", e.Name)
	}
	if strings.TrimSpace(e.PIDFile) == "" {
		return fmt.Errorf("entry %s requires pid_file", e.Name)
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the entry's Command. It avoids
// invoking a shell when not necessary, and it respects an explicit shell
// invocation already present in the command string (e.g. "sh -c 'echo
// hi'"), avoiding double-wrapping with another shell.
func (e *Entry) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(e.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use an absolute shell path to avoid PATH dependency when
		// Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c
// <ARG>" at the beginning of cmdStr, returning the script after "-c"
// verbatim so quoting survives.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			// Strip one wrapping pair of quotes so the shell sees the
			// actual script rather than a single quoted word.
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
