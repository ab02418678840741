package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsReadHeaderTimeout = 3 * time.Second

// ServeMetrics starts a /metrics HTTP server on addr, matching DMRHub's
// internal/metrics/server.go shape. Blocks until the server exits (it takes
// no context and has no shutdown hook); callers typically run this in its
// own goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("telemetry: metrics server: %w", err)
	}
	return nil
}
