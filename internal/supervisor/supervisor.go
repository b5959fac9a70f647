package supervisor

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/dkwon/svcup/internal/detector"
	"github.com/dkwon/svcup/internal/env"
	"github.com/dkwon/svcup/internal/history"
	"github.com/dkwon/svcup/internal/metrics"
	"github.com/dkwon/svcup/internal/pidfile"
	"github.com/dkwon/svcup/internal/store"
)

// Detection and signalling indirection. Replaced in tests to simulate
// processes that cannot be observed or signalled for real.
var (
	pidAlive = func(pid int) bool {
		alive, _ := detector.PIDDetector{PID: pid}.Alive()
		return alive
	}
	checkPIDFile = func(path string) (int, bool, error) {
		return detector.PIDFileDetector{PIDFile: path}.Check()
	}
	startTime = detector.StartTime
	kill      = syscall.Kill
)

// Options configures a Supervisor. Zero values get sensible defaults.
type Options struct {
	// PollInterval is the liveness polling tick used by the stop state
	// machine and the unit the graceful timeout is divided into. Default
	// one second.
	PollInterval time.Duration
	Logger       *slog.Logger
	Env          *env.Env
	// Store, when set, persists lifecycle records for each launch.
	Store store.Store
	// Sinks receive best-effort lifecycle events (analytics).
	Sinks []history.Sink
}

// Supervisor starts, stops and inspects named services tracked by PID
// files. It is sequential by design: one entry is fully handled before
// the next, and invocations are expected to run one at a time.
type Supervisor struct {
	interval time.Duration
	logger   *slog.Logger
	envM     *env.Env
	st       store.Store
	sinks    []history.Sink
}

func New(opts Options) *Supervisor {
	s := &Supervisor{
		interval: opts.PollInterval,
		logger:   opts.Logger,
		envM:     opts.Env,
		st:       opts.Store,
		sinks:    opts.Sinks,
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.envM == nil {
		s.envM = env.New()
	}
	return s
}

// Status reports whether the entry is currently running. A stale or
// unreadable PID file is removed as a side effect of the check.
func (s *Supervisor) Status(e Entry) Status {
	st := Status{Name: e.Name}
	pid, live, err := s.checkLive(e)
	if err != nil {
		s.logger.Warn("removing unreadable pid file", "service", e.Name, "path", e.PIDFile, "error", err)
		_ = pidfile.Remove(e.PIDFile)
		metrics.SetRunning(e.Name, false)
		return st
	}
	if pid != 0 && !live {
		_ = pidfile.Remove(e.PIDFile)
	}
	if live {
		st.Running = true
		st.PID = pid
		st.DetectedBy = detector.PIDFileDetector{PIDFile: e.PIDFile}.Describe()
	}
	metrics.SetRunning(e.Name, live)
	return st
}

// StatusAll reports every entry in order.
func (s *Supervisor) StatusAll(entries []Entry) []Status {
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.Status(e))
	}
	return out
}

// Start launches the entry unless it is already running. The child is
// detached into its own session with combined output appended to the
// entry's log destination; its PID is persisted the moment the launch
// succeeds, then liveness is re-verified after the startup delay.
func (s *Supervisor) Start(e Entry) Result {
	e.ApplyDefaults()
	if err := e.Validate(); err != nil {
		return Result{Name: e.Name, Outcome: OutcomeStartFailed, Err: err}
	}

	pid, live, err := s.checkLive(e)
	if err != nil {
		s.logger.Warn("removing unreadable pid file", "service", e.Name, "path", e.PIDFile, "error", err)
		_ = pidfile.Remove(e.PIDFile)
	}
	if live {
		s.logger.Info("already running", "service", e.Name, "pid", pid)
		return Result{Name: e.Name, Outcome: OutcomeAlreadyRunning, PID: pid}
	}
	if pid != 0 {
		// Stale file from a previous launch.
		_ = pidfile.Remove(e.PIDFile)
	}

	cmd := e.BuildCommand()
	if e.WorkDir != "" {
		cmd.Dir = e.WorkDir
	}
	cmd.Env = s.envM.Merge(e.Env)
	// New session: the child is detached from our controlling terminal and
	// survives supervisor exit.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	w, err := e.Log.Writer(e.Name)
	if err != nil {
		return s.startFailed(e, 0, err)
	}
	if w != nil {
		cmd.Stdout = w
		cmd.Stderr = w
	} else {
		null, _ := os.OpenFile(os.DevNull, os.O_RDWR, 0)
		cmd.Stdout = null
		cmd.Stderr = null
		w = null
	}

	s.logger.Info("starting", "service", e.Name, "command", e.Command)
	if err := cmd.Start(); err != nil {
		closeIf(w)
		return s.startFailed(e, 0, err)
	}
	pid = cmd.Process.Pid
	if err := pidfile.Write(e.PIDFile, pid); err != nil {
		_ = kill(pid, syscall.SIGKILL)
		closeIf(w)
		return s.startFailed(e, pid, err)
	}
	// Reap the child when it exits so liveness checks never see a zombie,
	// and release the log writer with it.
	go func() {
		_ = cmd.Wait()
		closeIf(w)
	}()

	time.Sleep(e.StartupVerifyDelay)

	alive := pidAlive(pid)
	if alive && e.HealthCheck != "" {
		ok, herr := detector.CommandDetector{Command: e.HealthCheck}.Alive()
		if !ok {
			s.logger.Error("health check failed", "service", e.Name, "pid", pid, "error", herr)
			_ = kill(pid, syscall.SIGKILL)
			alive = false
		}
	}
	if !alive {
		_ = pidfile.Remove(e.PIDFile)
		return s.startFailed(e, pid, errNotUpAfter(e.StartupVerifyDelay))
	}

	s.logger.Info("started", "service", e.Name, "pid", pid)
	metrics.IncStart(e.Name)
	metrics.SetRunning(e.Name, true)
	s.recordStart(e, pid)
	return Result{Name: e.Name, Outcome: OutcomeStarted, PID: pid}
}

// Stop terminates the entry with a graceful-then-forced escalation driven
// by a bounded polling state machine. A stale PID file is self-healed and
// does not count as a failure; a process that survives SIGKILL leaves its
// PID file in place for operator inspection.
func (s *Supervisor) Stop(e Entry) Result {
	e.ApplyDefaults()

	pid, live, err := s.checkLive(e)
	if err != nil {
		s.logger.Warn("removing unreadable pid file", "service", e.Name, "path", e.PIDFile, "error", err)
		_ = pidfile.Remove(e.PIDFile)
		return Result{Name: e.Name, Outcome: OutcomeStaleCleaned}
	}
	if pid == 0 {
		s.logger.Info("not running", "service", e.Name)
		return Result{Name: e.Name, Outcome: OutcomeNotRunning}
	}
	if !live {
		// Stale: recorded process is gone; no signal is sent.
		s.logger.Info("was not running, cleaning stale pid file", "service", e.Name, "pid", pid)
		_ = pidfile.Remove(e.PIDFile)
		return Result{Name: e.Name, Outcome: OutcomeStaleCleaned, PID: pid}
	}

	uniq := store.UniqueKey(e.Name, pid, startTime(pid))
	machine := newStopMachine(s, e.Name, pid)
	outcome := machine.run(e.GracefulTimeout)

	switch outcome {
	case OutcomeStoppedGraceful:
		_ = pidfile.Remove(e.PIDFile)
		s.logger.Info("stopped gracefully", "service", e.Name, "pid", pid)
		metrics.IncStop(e.Name, "graceful")
		metrics.SetRunning(e.Name, false)
		s.recordStop(e, pid, uniq, outcome)
	case OutcomeStoppedForced:
		_ = pidfile.Remove(e.PIDFile)
		s.logger.Warn("stopped (forced)", "service", e.Name, "pid", pid)
		metrics.IncStop(e.Name, "forced")
		metrics.SetRunning(e.Name, false)
		s.recordStop(e, pid, uniq, outcome)
	case OutcomeStopFailed:
		// PID file intentionally left for diagnosis.
		s.logger.Error("failed to stop", "service", e.Name, "pid", pid)
		metrics.IncFailure(e.Name, "stop")
	}
	return Result{Name: e.Name, Outcome: outcome, PID: pid}
}

// StartAll starts the entries in order, aborting after the first startup
// failure: bringing up a dependent system partially is unsafe.
func (s *Supervisor) StartAll(entries []Entry) Summary {
	var sum Summary
	for _, e := range entries {
		r := s.Start(e)
		sum.add(r)
		if r.Outcome == OutcomeStartFailed {
			s.logger.Error("aborting remaining starts", "failed", e.Name)
			break
		}
	}
	s.logger.Info("start run finished", "succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum
}

// StopAll stops every entry in order regardless of earlier failures:
// shutdown is best-effort across the whole list.
func (s *Supervisor) StopAll(entries []Entry) Summary {
	var sum Summary
	for _, e := range entries {
		sum.add(s.Stop(e))
	}
	s.logger.Info("stop run finished", "succeeded", sum.Succeeded, "failed", sum.Failed)
	return sum
}

// checkLive resolves the entry's PID file to (pid, live). pid is zero
// when no file exists; an unreadable file yields an error. Detection is
// the PID file detector's job: it probes the OS and guards against
// recycled PIDs, so staleness is always detected, never assumed.
func (s *Supervisor) checkLive(e Entry) (int, bool, error) {
	return checkPIDFile(e.PIDFile)
}

func (s *Supervisor) startFailed(e Entry, pid int, err error) Result {
	s.logger.Error("failed to start", "service", e.Name, "error", err)
	metrics.IncFailure(e.Name, "start")
	metrics.SetRunning(e.Name, false)
	return Result{Name: e.Name, Outcome: OutcomeStartFailed, PID: pid, Err: err}
}

func (s *Supervisor) recordStart(e Entry, pid int) {
	st := startTime(pid)
	startedAt := time.Now()
	if st > 0 {
		startedAt = time.Unix(st, 0)
	}
	rec := store.Record{
		Name:      e.Name,
		PID:       pid,
		StartedAt: startedAt,
		Running:   true,
		Uniq:      store.UniqueKey(e.Name, pid, startedAt.Unix()),
	}
	if s.st != nil {
		if err := s.st.RecordStart(context.Background(), rec); err != nil {
			s.logger.Warn("store record start failed", "service", e.Name, "error", err)
		}
	}
	s.send(history.Event{Type: history.EventStart, OccurredAt: time.Now().UTC(), Record: rec})
}

func (s *Supervisor) recordStop(e Entry, pid int, uniq string, outcome Outcome) {
	if s.st != nil {
		if err := s.st.RecordStop(context.Background(), uniq, time.Now(), outcome.String()); err != nil {
			s.logger.Warn("store record stop failed", "service", e.Name, "error", err)
		}
	}
	rec := store.Record{
		Name:    e.Name,
		PID:     pid,
		Running: false,
		Outcome: sql.NullString{String: outcome.String(), Valid: true},
		Uniq:    uniq,
	}
	s.send(history.Event{Type: history.EventStop, OccurredAt: time.Now().UTC(), Record: rec})
}

func (s *Supervisor) send(evt history.Event) {
	for _, sink := range s.sinks {
		if err := sink.Send(context.Background(), evt); err != nil {
			s.logger.Warn("history sink send failed", "error", err)
		}
	}
}

func closeIf(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
