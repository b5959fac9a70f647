package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	serviceStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "starts_total",
			Help:      "Number of successful service starts.",
		}, []string{"name"},
	)
	serviceStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "stops_total",
			Help:      "Number of confirmed stops, by mode (graceful or forced).",
		}, []string{"name", "mode"},
	)
	serviceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "failures_total",
			Help:      "Number of per-service failures, by kind (start or stop).",
		}, []string{"name", "kind"},
	)
	stopEscalations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "stop_escalations_total",
			Help:      "Number of stops that escalated from graceful to forced termination.",
		}, []string{"name"},
	)
	stopTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "stop_state_transitions_total",
			Help:      "Number of stop state machine transitions.",
		}, []string{"name", "from", "to"},
	)
	serviceRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "svcup",
			Subsystem: "service",
			Name:      "running",
			Help:      "Whether the named service is currently running (1) or not (0).",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{serviceStarts, serviceStops, serviceFailures, stopEscalations, stopTransitions, serviceRunning}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// Already registered is fine (allows double Register with default registry).
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires it into its own server.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until
// Register has been called.

func IncStart(name string) {
	if regOK.Load() {
		serviceStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name, mode string) {
	if regOK.Load() {
		serviceStops.WithLabelValues(name, mode).Inc()
	}
}

func IncFailure(name, kind string) {
	if regOK.Load() {
		serviceFailures.WithLabelValues(name, kind).Inc()
	}
}

func IncEscalation(name string) {
	if regOK.Load() {
		stopEscalations.WithLabelValues(name).Inc()
	}
}

func IncStopTransition(name, from, to string) {
	if regOK.Load() {
		stopTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetRunning(name string, running bool) {
	if !regOK.Load() {
		return
	}
	v := 0.0
	if running {
		v = 1.0
	}
	serviceRunning.WithLabelValues(name).Set(v)
}
