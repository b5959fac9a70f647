package supervisor

import (
	"encoding/json"
	"errors"
	"time"
)

// Outcome classifies how a single Start or Stop ended. Only StartFailed
// and StopFailed count against the aggregate run; everything else,
// including self-healed stale state, is success.
type Outcome int

const (
	OutcomeUnknown Outcome = iota
	OutcomeAlreadyRunning
	OutcomeStarted
	OutcomeStartFailed
	OutcomeNotRunning
	OutcomeStaleCleaned
	OutcomeStoppedGraceful
	OutcomeStoppedForced
	OutcomeStopFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAlreadyRunning:
		return "already running"
	case OutcomeStarted:
		return "started"
	case OutcomeStartFailed:
		return "failed to start"
	case OutcomeNotRunning:
		return "not running"
	case OutcomeStaleCleaned:
		return "was not running"
	case OutcomeStoppedGraceful:
		return "stopped gracefully"
	case OutcomeStoppedForced:
		return "stopped (forced)"
	case OutcomeStopFailed:
		return "failed to stop"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the outcome as its human-readable form.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON parses the form produced by MarshalJSON, so Result and
// Summary survive a round-trip through API clients. Unrecognized
// strings map to OutcomeUnknown.
func (o *Outcome) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for c := OutcomeAlreadyRunning; c <= OutcomeStopFailed; c++ {
		if c.String() == s {
			*o = c
			return nil
		}
	}
	*o = OutcomeUnknown
	return nil
}

// Failed reports whether the outcome counts as a failure for the run.
func (o Outcome) Failed() bool {
	return o == OutcomeStartFailed || o == OutcomeStopFailed
}

// Result is the per-entry outcome of one operation.
type Result struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	PID     int     `json:"pid,omitempty"`
	Err     error   `json:"-"`
}

// Summary aggregates per-entry results into succeeded/failed counts.
type Summary struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
}

func (s *Summary) add(r Result) {
	s.Results = append(s.Results, r)
	if r.Outcome.Failed() {
		s.Failed++
	} else {
		s.Succeeded++
	}
}

// OK reports whether no entry failed.
func (s Summary) OK() bool { return s.Failed == 0 }

// Status is the answer to a liveness query for one entry.
type Status struct {
	Name       string `json:"name"`
	Running    bool   `json:"running"`
	PID        int    `json:"pid,omitempty"`
	DetectedBy string `json:"detected_by,omitempty"`
}

func errNotUpAfter(d time.Duration) error {
	return errors.New("process not live after startup verify delay " + d.String())
}
