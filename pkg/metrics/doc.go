/*
Package metrics provides Prometheus metrics collection and exposition for
Hetuflow's servers and agents.

Metrics are registered at package init and exposed via an HTTP handler
for scraping; a Timer helper times operations and records the result to
a histogram.

# Metrics Catalog

Topology:

hetuflow_servers_total{status}, hetuflow_agents_total{status}:
  - Type: Gauge
  - Total servers/agents by status

hetuflow_agent_connections:
  - Type: Gauge
  - Live Agent Gateway WebSocket connections

Leader election:

hetuflow_is_leader:
  - Type: Gauge
  - 1 if this server holds the scheduler leader lock, else 0

hetuflow_leader_election_attempts_total{outcome}:
  - Type: Counter
  - Lock acquisition attempts, outcome = "acquired"|"renewed"|"lost"|"error"

Task generation and dispatch:

hetuflow_tasks_generated_total{schedule_kind}:
  - Type: Counter

hetuflow_task_generation_duration_seconds:
  - Type: Histogram

hetuflow_tasks_dispatched_total{pathway}:
  - Type: Counter, pathway = "push"|"poll"

hetuflow_tasks_failed_total:
  - Type: Counter

hetuflow_task_poll_latency_seconds:
  - Type: Histogram

Load balancing:

hetuflow_rebalance_cycles_total:
  - Type: Counter

hetuflow_load_coefficient_of_variation:
  - Type: Gauge

Agent process supervisor:

hetuflow_processes_spawned_total:
  - Type: Counter

hetuflow_processes_exited_total{outcome}:
  - Type: Counter, outcome = "succeeded"|"failed"

Scheduler service:

hetuflow_scheduling_cycle_duration_seconds:
  - Type: Histogram

hetuflow_heartbeat_timeouts_total:
  - Type: Counter

# Usage

	timer := metrics.NewTimer()
	generateTasks()
	timer.ObserveDuration(metrics.TaskGenerationDuration)

	metrics.TasksDispatchedTotal.WithLabelValues("push").Inc()

	http.Handle("/metrics", metrics.Handler())

# Integration Points

This package integrates with:

  - pkg/taskgen: records generation duration and counts
  - pkg/leader: records election attempts (the leader gauge is set by
    this package's Collector)
  - pkg/balancer: records rebalance cycles and CoV
  - pkg/schedsvc: records scheduling cycle duration and heartbeat timeouts
  - pkg/gateway: records connection gauge
  - pkg/agent/process: records spawn/exit counters

# Design Patterns

Package-init registration (MustRegister, panics on duplicate),
WithLabelValues for bounded-cardinality labels, and a Timer helper
wrapping start/ObserveDuration.
*/
package metrics
