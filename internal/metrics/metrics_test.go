package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestServeRegistersMetrics(t *testing.T) {
	srv := Serve(":0")
	defer srv.Close()

	OutcomesTotal.WithLabelValues("vetoed").Inc()

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "sigworker_outcomes_total" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("sigworker_outcomes_total metric not found")
	}
}

func TestOpenPositionsGauge(t *testing.T) {
	OpenPositions.Set(3)
	if got := testutil.ToFloat64(OpenPositions); got != 3 {
		t.Fatalf("expected gauge 3, got %v", got)
	}
}
