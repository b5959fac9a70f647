package supervisor

import (
	"syscall"
	"time"

	"github.com/dkwon/svcup/internal/metrics"
)

// The stop path is an explicit bounded polling state machine rather than
// a sleep-and-hope loop: Waiting while the graceful signal is given a
// chance, Escalating once the tick budget is spent, and either Confirmed
// or Failed after the forced signal. Each transition is logged as a
// discrete event.

type stopState int

const (
	stopWaiting stopState = iota
	stopConfirmed
	stopEscalating
	stopFailed
)

func (s stopState) String() string {
	switch s {
	case stopWaiting:
		return "waiting"
	case stopConfirmed:
		return "confirmed"
	case stopEscalating:
		return "escalating"
	case stopFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type stopMachine struct {
	sup   *Supervisor
	name  string
	pid   int
	state stopState
}

func newStopMachine(sup *Supervisor, name string, pid int) *stopMachine {
	return &stopMachine{sup: sup, name: name, pid: pid, state: stopWaiting}
}

func (m *stopMachine) transition(to stopState) {
	m.sup.logger.Debug("stop state transition",
		"service", m.name, "pid", m.pid, "from", m.state.String(), "to", to.String())
	metrics.IncStopTransition(m.name, m.state.String(), to.String())
	m.state = to
}

// run drives the machine against a live process: SIGTERM, one liveness
// tick per poll interval up to the graceful budget, then SIGKILL and one
// final tick. The worst-case wall time is gracefulTimeout plus one
// interval.
func (m *stopMachine) run(gracefulTimeout time.Duration) Outcome {
	interval := m.sup.interval
	ticks := int(gracefulTimeout / interval)
	if ticks < 1 {
		ticks = 1
	}

	m.sup.logger.Info("stopping", "service", m.name, "pid", m.pid, "graceful_timeout", gracefulTimeout)
	_ = kill(m.pid, syscall.SIGTERM)

	for i := 0; i < ticks; i++ {
		time.Sleep(interval)
		if !pidAlive(m.pid) {
			m.transition(stopConfirmed)
			return OutcomeStoppedGraceful
		}
	}

	m.transition(stopEscalating)
	metrics.IncEscalation(m.name)
	_ = kill(m.pid, syscall.SIGKILL)
	time.Sleep(interval)

	if !pidAlive(m.pid) {
		m.transition(stopConfirmed)
		return OutcomeStoppedForced
	}
	m.transition(stopFailed)
	return OutcomeStopFailed
}
