/*
Package metrics provides Prometheus instrumentation and a JSON health/
readiness endpoint for the container isolation subsystem.

Metrics are registered at package init against the default Prometheus
registry and exposed via Handler() for scraping. Collector polls a
container.Manager on an interval and keeps the cage_cgroup_* and
cage_containers_total gauges current, since neither the cgroup nor
namespace controllers push change notifications.

# Metrics

cage_containers_total{state}: Gauge, container count by lifecycle state.

cage_containers_created_total / cage_containers_failed_total: Counter.

cage_cgroup_memory_used_bytes{cgroup}, cage_cgroup_memory_peak_bytes{cgroup},
cage_cgroup_penalty_ticks{cgroup}, cage_cgroup_ticks_used{cgroup}: Gauge,
one series per live cgroup.

cage_pid_namespaces_active, cage_ipc_namespaces_active: Gauge.

cage_container_{create,start,stop}_duration_seconds: Histogram.

# Health

RegisterComponent/SetVersion feed GetHealth and GetReadiness, which the
HTTP layer in cmd/cage exposes at /health, /ready, and /live.
*/
package metrics
