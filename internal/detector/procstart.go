package detector

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	sysconf "github.com/tklauser/go-sysconf"
)

// StartTime returns the process start time as Unix seconds using
// platform-native methods. Returns 0 when unavailable or on error.
func StartTime(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return startTimeLinux(pid)
	}
	// Best-effort for Darwin/BSD via gopsutil (sysctl under the hood).
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// startTimeLinux reads /proc to compute a stable start time without
// spawning external processes.
func startTimeLinux(pid int) int64 {
	// /proc/[pid]/stat field 22 is starttime in clock ticks since boot.
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	// The comm field can contain spaces; find the ") " that terminates it.
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	parts := strings.Fields(strings.TrimSpace(line[end+2:]))
	// parts[0] is state (field 3 overall); starttime is field 22 => index 19.
	if len(parts) < 20 {
		return 0
	}
	startTicks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}

	btime := bootTimeLinux()
	if btime == 0 {
		return 0
	}

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + (startTicks / int64(clk))
}

func bootTimeLinux() int64 {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			v := strings.TrimSpace(strings.TrimPrefix(text, "btime "))
			if bt, err := strconv.ParseInt(v, 10, 64); err == nil {
				return bt
			}
		}
	}
	return 0
}
