// Package metrics exposes Prometheus instrumentation for the container
// isolation subsystem: container population by state, cgroup accounting
// snapshots, and lifecycle operation latency. There is no cluster, Raft,
// ingress, or deployment concept in this module, so the registered
// metrics are trimmed to single-process container lifecycle and resource
// accounting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cage_containers_total",
			Help: "Number of containers by lifecycle state",
		},
		[]string{"state"},
	)

	ContainersCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cage_containers_created_total",
			Help: "Total number of containers created",
		},
	)

	ContainersFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cage_containers_failed_total",
			Help: "Total number of containers that entered ERROR",
		},
	)

	CGroupMemoryUsedBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cage_cgroup_memory_used_bytes",
			Help: "Current memory usage per cgroup",
		},
		[]string{"cgroup"},
	)

	CGroupMemoryPeakBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cage_cgroup_memory_peak_bytes",
			Help: "Peak observed memory usage per cgroup",
		},
		[]string{"cgroup"},
	)

	CGroupPenaltyTicks = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cage_cgroup_penalty_ticks",
			Help: "Remaining scheduling penalty ticks per cgroup",
		},
		[]string{"cgroup"},
	)

	CGroupTicksUsed = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cage_cgroup_ticks_used",
			Help: "CPU ticks consumed in the current window per cgroup",
		},
		[]string{"cgroup"},
	)

	PIDNamespacesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cage_pid_namespaces_active",
			Help: "Number of active PID namespace slots, including root",
		},
	)

	IPCNamespacesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cage_ipc_namespaces_active",
			Help: "Number of active IPC namespace slots, including root",
		},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cage_container_create_duration_seconds",
			Help:    "Time taken to create a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cage_container_start_duration_seconds",
			Help:    "Time taken to start a container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cage_container_stop_duration_seconds",
			Help:    "Time taken to stop a container",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		ContainersTotal,
		ContainersCreatedTotal,
		ContainersFailedTotal,
		CGroupMemoryUsedBytes,
		CGroupMemoryPeakBytes,
		CGroupPenaltyTicks,
		CGroupTicksUsed,
		PIDNamespacesActive,
		IPCNamespacesActive,
		ContainerCreateDuration,
		ContainerStartDuration,
		ContainerStopDuration,
	)
}

// Handler returns the Prometheus scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer times an operation for later observation into a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records elapsed time into histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records elapsed time into a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
