package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the process-wide Prometheus collectors, generalized from
// DMRHub's internal/metrics/prometheus.go KV-centric metrics to the five
// concerns SPEC_FULL.md calls out: call lifecycle, FSM transitions, bus
// publish/consume, pipeline stage latency, and codec round-trip error.
type Metrics struct {
	CallsStarted  prometheus.Counter
	CallsEnded    *prometheus.CounterVec
	ActiveCalls   prometheus.Gauge

	FSMTransitionsTotal *prometheus.CounterVec

	BusPublishTotal *prometheus.CounterVec
	BusConsumeTotal *prometheus.CounterVec

	PipelineStageDuration *prometheus.HistogramVec

	CodecRoundTripError prometheus.Histogram
}

// NewMetrics builds and registers all collectors against the default
// registry, matching DMRHub's register()-on-construction pattern.
func NewMetrics() *Metrics {
	m := &Metrics{
		CallsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "voicebridge_calls_started_total",
			Help: "Total calls accepted from the switch.",
		}),
		CallsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_calls_ended_total",
			Help: "Total calls reaching a terminal FSM state, by terminal state.",
		}, []string{"state"}),
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_calls",
			Help: "Calls currently in a non-terminal FSM state.",
		}),
		FSMTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_fsm_transitions_total",
			Help: "FSM transitions by from/to state.",
		}, []string{"from", "to"}),
		BusPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_bus_publish_total",
			Help: "Bus publishes by topic and outcome.",
		}, []string{"topic", "status"}),
		BusConsumeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_bus_consume_total",
			Help: "Bus envelopes consumed by topic.",
		}, []string{"topic"}),
		PipelineStageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voicebridge_pipeline_stage_duration_seconds",
			Help:    "Per-stage processing latency in the audio pipeline.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
		CodecRoundTripError: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "voicebridge_codec_roundtrip_rms_error",
			Help:    "RMS error fraction of encode/decode round trips.",
			Buckets: prometheus.LinearBuckets(0, 0.005, 10),
		}),
	}
	m.register()
	return m
}

func (m *Metrics) register() {
	prometheus.MustRegister(
		m.CallsStarted,
		m.CallsEnded,
		m.ActiveCalls,
		m.FSMTransitionsTotal,
		m.BusPublishTotal,
		m.BusConsumeTotal,
		m.PipelineStageDuration,
		m.CodecRoundTripError,
	)
}
