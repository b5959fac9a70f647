package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterAndRecord(t *testing.T) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Double registration is a no-op.
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("second Register: %v", err)
	}

	IncStart("api")
	IncStop("api", "graceful")
	IncStop("worker", "forced")
	IncFailure("worker", "stop")
	IncEscalation("worker")
	IncStopTransition("worker", "waiting", "escalating")
	SetRunning("api", true)
	SetRunning("api", false)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"svcup_service_starts_total",
		"svcup_service_stops_total",
		"svcup_service_failures_total",
		"svcup_service_stop_escalations_total",
		"svcup_service_stop_state_transitions_total",
		"svcup_service_running",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}
