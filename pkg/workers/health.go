// Package workers hosts the bus-subscriber loops that wrap the STT, LLM,
// and TTS provider interfaces (spec §4.6). The teacher invokes providers
// in-process from ManagedStream directly; this package adds the
// worker/bus indirection spec.md §4.6/§7 requires, grounded on DMRHub's
// internal/pubsub single-task-per-subscription consumer idiom.
package workers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/lokutor-ai/voicebridge/pkg/bus"
)

// HealthStatus is the periodic health.<worker> payload shape from
// spec.md §4.6.
type HealthStatus struct {
	Status              string  `json:"status"`
	UptimeSeconds       float64 `json:"uptime_seconds"`
	QueueDepth          int     `json:"queue_depth"`
	ErrorRate           float64 `json:"error_rate"`
	BackendLatencyP50Ms float64 `json:"backend_latency_ms_p50"`
	BackendLatencyP95Ms float64 `json:"backend_latency_ms_p95"`
}

// LatencyTracker keeps a small rolling window of recent request latencies
// to approximate p50/p95 without pulling in a dedicated quantile library
// (the worker health payload tolerates an approximation; the bus consumer
// never needs exact sketch semantics).
type LatencyTracker struct {
	samples [64]float64
	next    atomic.Int64
	total   atomic.Int64
	errors  atomic.Int64
}

// NewLatencyTracker builds an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{}
}

// Record adds one observed request latency/outcome.
func (t *LatencyTracker) Record(d time.Duration, failed bool) {
	idx := t.next.Add(1) - 1
	t.samples[idx%int64(len(t.samples))] = float64(d.Milliseconds())
	t.total.Add(1)
	if failed {
		t.errors.Add(1)
	}
}

// Percentiles returns the approximate p50/p95 latency in milliseconds.
func (t *LatencyTracker) Percentiles() (p50, p95 float64) {
	n := t.total.Load()
	count := int(n)
	if count > len(t.samples) {
		count = len(t.samples)
	}
	if count == 0 {
		return 0, 0
	}
	sorted := append([]float64(nil), t.samples[:count]...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	p50 = sorted[len(sorted)*50/100]
	p95 = sorted[minInt(len(sorted)-1, len(sorted)*95/100)]
	return p50, p95
}

// ErrorRate returns the fraction of recorded requests that failed.
func (t *LatencyTracker) ErrorRate() float64 {
	n := t.total.Load()
	if n == 0 {
		return 0
	}
	return float64(t.errors.Load()) / float64(n)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// PublishHealth runs until ctx is cancelled, publishing a HealthStatus on
// topic every interval.
func PublishHealth(ctx context.Context, b *bus.Bus, topic bus.Topic, started time.Time, queueDepth func() int, lat *LatencyTracker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p50, p95 := lat.Percentiles()
			status := HealthStatus{
				Status:              "healthy",
				UptimeSeconds:       time.Since(started).Seconds(),
				QueueDepth:          queueDepth(),
				ErrorRate:           lat.ErrorRate(),
				BackendLatencyP50Ms: p50,
				BackendLatencyP95Ms: p95,
			}
			env := bus.NewEnvelope(topic, "", "", status)
			_ = b.Publish(ctx, env)
		}
	}
}

// Semaphore bounds concurrent in-flight requests per worker (default 4,
// spec §5 "bounded parallelism").
type Semaphore chan struct{}

// NewSemaphore builds a semaphore with capacity n.
func NewSemaphore(n int) Semaphore {
	return make(Semaphore, n)
}

// Acquire blocks until a slot is free or ctx is done.
func (s Semaphore) Acquire(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot.
func (s Semaphore) Release() { <-s }

// Depth reports the number of slots currently in use.
func (s Semaphore) Depth() int { return len(s) }
