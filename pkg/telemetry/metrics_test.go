package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCallsStartedCounterIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		CallsStarted: prometheus.NewCounter(prometheus.CounterOpts{Name: "test_calls_started_total"}),
	}
	reg.MustRegister(m.CallsStarted)

	m.CallsStarted.Inc()
	m.CallsStarted.Inc()

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var got float64
	for _, mf := range metricFamilies {
		if mf.GetName() != "test_calls_started_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			got = metric.GetCounter().GetValue()
		}
	}
	if got != 2 {
		t.Fatalf("expected counter value 2, got %v", got)
	}
}
