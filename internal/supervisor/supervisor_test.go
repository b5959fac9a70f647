package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/dkwon/svcup/internal/detector"
	"github.com/dkwon/svcup/internal/history"
	"github.com/dkwon/svcup/internal/pidfile"
	"github.com/dkwon/svcup/internal/store"
)

const tick = 50 * time.Millisecond

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	return New(Options{
		PollInterval: tick,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func testEntry(t *testing.T, name, command string) Entry {
	t.Helper()
	dir := t.TempDir()
	return Entry{
		Name:               name,
		Command:            command,
		PIDFile:            filepath.Join(dir, name+".pid"),
		GracefulTimeout:    5 * tick,
		StartupVerifyDelay: 2 * tick,
	}
}

// freePID returns the PID of a child that has already exited and been
// reaped, i.e. a PID that is almost certainly not live.
func freePID(t *testing.T) int {
	t.Helper()
	cmd := exec.Command("/bin/true")
	if err := cmd.Run(); err != nil {
		t.Fatal(err)
	}
	pid := cmd.Process.Pid
	if detector.PIDAlive(pid) {
		t.Skipf("pid %d recycled immediately", pid)
	}
	return pid
}

func mustStop(t *testing.T, s *Supervisor, e Entry) {
	t.Helper()
	if r := s.Stop(e); r.Outcome.Failed() {
		t.Fatalf("cleanup stop failed: %+v", r)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "api", "sleep 30")

	r := s.Start(e)
	if r.Outcome != OutcomeStarted {
		t.Fatalf("first start: %v (%v)", r.Outcome, r.Err)
	}
	defer mustStop(t, s, e)

	// Round-trip: PID file parses to the live child's identifier.
	pid, err := pidfile.Read(e.PIDFile)
	if err != nil {
		t.Fatalf("pidfile read: %v", err)
	}
	if pid <= 0 || pid != r.PID {
		t.Fatalf("pidfile %d vs result %d", pid, r.PID)
	}

	again := s.Start(e)
	if again.Outcome != OutcomeAlreadyRunning {
		t.Fatalf("second start: %v", again.Outcome)
	}
	if again.PID != pid {
		t.Fatalf("second start reported pid %d, want %d", again.PID, pid)
	}
	// No duplicate process: the PID file still names the original child.
	pid2, _ := pidfile.Read(e.PIDFile)
	if pid2 != pid {
		t.Fatalf("pidfile rewritten: %d -> %d", pid, pid2)
	}
}

func TestStartFailure(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "doomed", "false")

	r := s.Start(e)
	if r.Outcome != OutcomeStartFailed {
		t.Fatalf("expected StartFailed, got %v", r.Outcome)
	}
	if r.Err == nil {
		t.Fatal("expected an error on startup failure")
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("pid file must be removed after startup failure")
	}
}

func TestStartHealthCheckFailure(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "sick", "sleep 30")
	e.HealthCheck = "false"

	r := s.Start(e)
	if r.Outcome != OutcomeStartFailed {
		t.Fatalf("expected StartFailed, got %v", r.Outcome)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("pid file must be removed after failed health check")
	}
	// The launched child must not be left running.
	time.Sleep(2 * tick)
	if r.PID > 0 && detector.PIDAlive(r.PID) {
		t.Fatalf("child %d still alive after failed health check", r.PID)
	}
}

func TestStartHealthCheckSuccess(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "healthy", "sleep 30")
	e.HealthCheck = "true"
	r := s.Start(e)
	if r.Outcome != OutcomeStarted {
		t.Fatalf("expected Started, got %v (%v)", r.Outcome, r.Err)
	}
	mustStop(t, s, e)
}

func TestStopWithoutPIDFile(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "ghost", "sleep 30")
	r := s.Stop(e)
	if r.Outcome != OutcomeNotRunning {
		t.Fatalf("expected NotRunning, got %v", r.Outcome)
	}
	if r.Outcome.Failed() {
		t.Fatal("NotRunning must count as success")
	}
}

func TestStopStalePIDFile(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "stale", "sleep 30")
	if err := pidfile.Write(e.PIDFile, freePID(t)); err != nil {
		t.Fatal(err)
	}

	// Record every signal sent; a stale stop must not send any.
	var signalled []int
	restore := kill
	kill = func(pid int, sig syscall.Signal) error {
		signalled = append(signalled, pid)
		return syscall.Kill(pid, sig)
	}
	t.Cleanup(func() { kill = restore })

	r := s.Stop(e)
	if r.Outcome != OutcomeStaleCleaned {
		t.Fatalf("expected StaleCleaned, got %v", r.Outcome)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("stale pid file must be removed")
	}
	if len(signalled) != 0 {
		t.Fatalf("no signal may be sent for a stale entry, got %v", signalled)
	}
}

func TestStopReusedPIDIsStale(t *testing.T) {
	// A PID file written long before the recorded process started names a
	// recycled PID; Stop must treat it as stale and send no signal.
	s := newTestSupervisor(t)
	e := testEntry(t, "recycled", "sleep 30")
	if err := pidfile.Write(e.PIDFile, os.Getpid()); err != nil {
		t.Fatal(err)
	}
	st := detector.StartTime(os.Getpid())
	if st == 0 {
		t.Skip("start time unavailable on this platform")
	}
	old := time.Unix(st-3600, 0)
	if err := os.Chtimes(e.PIDFile, old, old); err != nil {
		t.Fatal(err)
	}

	var signalled []int
	restore := kill
	kill = func(pid int, sig syscall.Signal) error {
		signalled = append(signalled, pid)
		return syscall.Kill(pid, sig)
	}
	t.Cleanup(func() { kill = restore })

	r := s.Stop(e)
	if r.Outcome != OutcomeStaleCleaned {
		t.Fatalf("expected StaleCleaned for recycled pid, got %v", r.Outcome)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("recycled pid file must be removed")
	}
	if len(signalled) != 0 {
		t.Fatalf("no signal may be sent for a recycled pid, got %v", signalled)
	}
}

func TestStopUnreadablePIDFile(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "garbled", "sleep 30")
	if err := writeFile(e.PIDFile, "not-a-pid"); err != nil {
		t.Fatal(err)
	}
	r := s.Stop(e)
	if r.Outcome != OutcomeStaleCleaned {
		t.Fatalf("expected StaleCleaned for unreadable file, got %v", r.Outcome)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("unreadable pid file must be removed")
	}
}

func TestStopGraceful(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "polite", "sleep 30")
	if r := s.Start(e); r.Outcome != OutcomeStarted {
		t.Fatalf("start: %v (%v)", r.Outcome, r.Err)
	}

	began := time.Now()
	r := s.Stop(e)
	elapsed := time.Since(began)
	if r.Outcome != OutcomeStoppedGraceful {
		t.Fatalf("expected StoppedGraceful, got %v", r.Outcome)
	}
	if elapsed >= e.GracefulTimeout {
		t.Fatalf("graceful stop took %v, budget was %v", elapsed, e.GracefulTimeout)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("pid file must be removed after graceful stop")
	}
}

func TestStopEscalatesToForced(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "stubborn", `sh -c 'trap "" TERM; while true; do sleep 0.05; done'`)
	if r := s.Start(e); r.Outcome != OutcomeStarted {
		t.Fatalf("start: %v (%v)", r.Outcome, r.Err)
	}

	began := time.Now()
	r := s.Stop(e)
	elapsed := time.Since(began)
	if r.Outcome != OutcomeStoppedForced {
		t.Fatalf("expected StoppedForced, got %v", r.Outcome)
	}
	if elapsed < e.GracefulTimeout {
		t.Fatalf("forced stop finished in %v, before the %v graceful window", elapsed, e.GracefulTimeout)
	}
	if elapsed >= e.GracefulTimeout+10*tick {
		t.Fatalf("forced stop took %v, far beyond budget", elapsed)
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("pid file must be removed after forced stop")
	}
}

func TestStartAllAbortsAfterFirstFailure(t *testing.T) {
	s := newTestSupervisor(t)
	bad := testEntry(t, "bad", "false")
	good := testEntry(t, "good", "sleep 30")

	sum := s.StartAll([]Entry{bad, good})
	if len(sum.Results) != 1 {
		t.Fatalf("expected 1 result (second entry never attempted), got %d", len(sum.Results))
	}
	if sum.Failed != 1 || sum.Succeeded != 0 {
		t.Fatalf("counts: succeeded=%d failed=%d", sum.Succeeded, sum.Failed)
	}
	if sum.OK() {
		t.Fatal("run with a failure must not be OK")
	}
	if pidfile.Exists(good.PIDFile) {
		t.Fatal("second entry must never have been started")
	}
}

func TestStartAllOrderAndCounts(t *testing.T) {
	s := newTestSupervisor(t)
	first := testEntry(t, "first", "sleep 30")
	second := testEntry(t, "second", "sleep 30")

	sum := s.StartAll([]Entry{first, second})
	defer s.StopAll([]Entry{first, second})
	if !sum.OK() || sum.Succeeded != 2 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.Results[0].Name != "first" || sum.Results[1].Name != "second" {
		t.Fatalf("order not preserved: %+v", sum.Results)
	}
}

func TestStopAllContinuesPastFailure(t *testing.T) {
	s := newTestSupervisor(t)

	// An entry whose recorded process can neither be observed dead nor
	// signalled away: simulates a process that survives SIGKILL.
	const unkillable = 999999999
	undead := testEntry(t, "undead", "sleep 30")
	if err := pidfile.Write(undead.PIDFile, unkillable); err != nil {
		t.Fatal(err)
	}
	undead.GracefulTimeout = 2 * tick

	restoreAlive, restoreCheck, restoreKill := pidAlive, checkPIDFile, kill
	pidAlive = func(pid int) bool {
		if pid == unkillable {
			return true
		}
		return detector.PIDAlive(pid)
	}
	checkPIDFile = func(path string) (int, bool, error) {
		if pid, err := pidfile.Read(path); err == nil && pid == unkillable {
			return pid, true, nil
		}
		return restoreCheck(path)
	}
	kill = func(pid int, sig syscall.Signal) error {
		if pid == unkillable {
			return nil
		}
		return syscall.Kill(pid, sig)
	}
	t.Cleanup(func() { pidAlive, checkPIDFile, kill = restoreAlive, restoreCheck, restoreKill })

	victim := testEntry(t, "victim", "sleep 30")
	if r := s.Start(victim); r.Outcome != OutcomeStarted {
		t.Fatalf("start victim: %v (%v)", r.Outcome, r.Err)
	}

	sum := s.StopAll([]Entry{undead, victim})
	if len(sum.Results) != 2 {
		t.Fatalf("both entries must be attempted, got %d results", len(sum.Results))
	}
	if sum.Results[0].Outcome != OutcomeStopFailed {
		t.Fatalf("undead: %v", sum.Results[0].Outcome)
	}
	if sum.Results[1].Outcome != OutcomeStoppedGraceful {
		t.Fatalf("victim: %v", sum.Results[1].Outcome)
	}
	if sum.Failed != 1 || sum.Succeeded != 1 {
		t.Fatalf("counts: %+v", sum)
	}
	// The failed entry's pid file stays for operator inspection.
	if !pidfile.Exists(undead.PIDFile) {
		t.Fatal("failed stop must leave the pid file in place")
	}
	if pidfile.Exists(victim.PIDFile) {
		t.Fatal("stopped entry's pid file must be gone")
	}
}

func TestStatus(t *testing.T) {
	s := newTestSupervisor(t)
	e := testEntry(t, "probe", "sleep 30")

	st := s.Status(e)
	if st.Running {
		t.Fatal("not started yet")
	}

	if r := s.Start(e); r.Outcome != OutcomeStarted {
		t.Fatalf("start: %v (%v)", r.Outcome, r.Err)
	}
	st = s.Status(e)
	if !st.Running || st.PID <= 0 {
		t.Fatalf("expected running status, got %+v", st)
	}
	mustStop(t, s, e)

	// Stale file is cleaned up as a side effect of the check.
	if err := pidfile.Write(e.PIDFile, freePID(t)); err != nil {
		t.Fatal(err)
	}
	st = s.Status(e)
	if st.Running {
		t.Fatal("stale entry reported running")
	}
	if pidfile.Exists(e.PIDFile) {
		t.Fatal("stale pid file must be cleaned by status check")
	}
}

func TestStatusAll(t *testing.T) {
	s := newTestSupervisor(t)
	a := testEntry(t, "a", "sleep 30")
	b := testEntry(t, "b", "sleep 30")
	if r := s.Start(a); r.Outcome != OutcomeStarted {
		t.Fatalf("start: %v", r.Outcome)
	}
	defer mustStop(t, s, a)

	sts := s.StatusAll([]Entry{a, b})
	if len(sts) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(sts))
	}
	if !sts[0].Running || sts[1].Running {
		t.Fatalf("unexpected statuses: %+v", sts)
	}
}

// --- store and sink wiring ---

type memStore struct {
	starts []store.Record
	stops  []string
}

func (m *memStore) EnsureSchema(context.Context) error { return nil }
func (m *memStore) RecordStart(_ context.Context, rec store.Record) error {
	m.starts = append(m.starts, rec)
	return nil
}
func (m *memStore) RecordStop(_ context.Context, uniq string, _ time.Time, outcome string) error {
	m.stops = append(m.stops, uniq+"|"+outcome)
	return nil
}
func (m *memStore) GetByName(context.Context, string) (store.Record, error) {
	return store.Record{}, nil
}
func (m *memStore) Close() error { return nil }

type memSink struct{ events []history.Event }

func (m *memSink) Send(_ context.Context, e history.Event) error {
	m.events = append(m.events, e)
	return nil
}

func TestLifecycleRecording(t *testing.T) {
	st := &memStore{}
	sink := &memSink{}
	s := New(Options{
		PollInterval: tick,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:        st,
		Sinks:        []history.Sink{sink},
	})
	e := testEntry(t, "tracked", "sleep 30")

	if r := s.Start(e); r.Outcome != OutcomeStarted {
		t.Fatalf("start: %v (%v)", r.Outcome, r.Err)
	}
	if r := s.Stop(e); r.Outcome != OutcomeStoppedGraceful {
		t.Fatalf("stop: %v", r.Outcome)
	}

	if len(st.starts) != 1 || st.starts[0].Name != "tracked" {
		t.Fatalf("store starts: %+v", st.starts)
	}
	if len(st.stops) != 1 {
		t.Fatalf("store stops: %+v", st.stops)
	}
	if len(sink.events) != 2 || sink.events[0].Type != history.EventStart || sink.events[1].Type != history.EventStop {
		t.Fatalf("sink events: %+v", sink.events)
	}
}

func writeFile(path string, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}
