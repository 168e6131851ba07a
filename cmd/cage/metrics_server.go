package main

import (
	"context"
	"net/http"

	"github.com/lattice-rt/cage/internal/log"
	"github.com/lattice-rt/cage/pkg/metrics"
)

// startMetricsServer wires a collector polling state.manager into the
// Prometheus registry and serves it alongside the health/readiness/
// liveness endpoints. Returns a func to stop the collector on shutdown.
func startMetricsServer(state *appState, addr string) func() {
	collector := metrics.NewCollector(state.manager)
	collector.Start()

	metrics.SetVersion(Version)
	metrics.RegisterComponent("scheduler", true, "running")
	metrics.RegisterComponent("flash", true, "open")
	metrics.RegisterComponent("loader", true, "ready")

	if addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		srv := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("cli").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		return func() {
			collector.Stop()
			_ = srv.Shutdown(context.Background())
		}
	}

	return collector.Stop
}
