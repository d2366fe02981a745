package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Topology metrics
	ServersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hetuflow_servers_total",
			Help: "Total number of control-plane servers by status",
		},
		[]string{"status"},
	)

	AgentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hetuflow_agents_total",
			Help: "Total number of registered agents by status",
		},
		[]string{"status"},
	)

	AgentConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hetuflow_agent_connections",
			Help: "Number of live Agent Gateway WebSocket connections",
		},
	)

	// Leader election metrics
	LeaderStatus = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hetuflow_is_leader",
			Help: "Whether this server currently holds the scheduler leader lock (1 = leader, 0 = follower)",
		},
	)

	LeaderElectionAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hetuflow_leader_election_attempts_total",
			Help: "Total number of leader lock acquisition attempts by outcome",
		},
		[]string{"outcome"},
	)

	// Task generation metrics
	TasksGeneratedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hetuflow_tasks_generated_total",
			Help: "Total number of tasks generated from schedules, by schedule kind",
		},
		[]string{"schedule_kind"},
	)

	TaskGenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hetuflow_task_generation_duration_seconds",
			Help:    "Time taken for one task generation pass across all active schedules",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dispatch/execution metrics
	TasksDispatchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hetuflow_tasks_dispatched_total",
			Help: "Total number of tasks dispatched to agents, by pathway (push/poll)",
		},
		[]string{"pathway"},
	)

	TasksFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hetuflow_tasks_failed_total",
			Help: "Total number of tasks that reached the failed state",
		},
	)

	TaskPollLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hetuflow_task_poll_latency_seconds",
			Help:    "Latency of agent poll-task round trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Load balancer metrics
	RebalanceCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hetuflow_rebalance_cycles_total",
			Help: "Total number of namespace rebalance cycles performed",
		},
	)

	LoadCoefficientOfVariation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hetuflow_load_coefficient_of_variation",
			Help: "Coefficient of variation of server load scores, as last computed by the load balancer",
		},
	)

	// Agent process supervisor metrics
	ProcessesSpawnedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hetuflow_processes_spawned_total",
			Help: "Total number of child processes spawned by the agent",
		},
	)

	ProcessesExitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hetuflow_processes_exited_total",
			Help: "Total number of child processes that exited, by outcome",
		},
		[]string{"outcome"},
	)

	ProcessesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hetuflow_processes_active",
			Help: "Number of child processes currently supervised by the agent",
		},
	)

	// Scheduler service metrics
	SchedulingCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hetuflow_scheduling_cycle_duration_seconds",
			Help:    "Time taken for one scheduler service sweep cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	HeartbeatTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hetuflow_heartbeat_timeouts_total",
			Help: "Total number of agents marked offline due to missed heartbeats",
		},
	)
)

func init() {
	prometheus.MustRegister(ServersTotal)
	prometheus.MustRegister(AgentsTotal)
	prometheus.MustRegister(AgentConnections)
	prometheus.MustRegister(LeaderStatus)
	prometheus.MustRegister(LeaderElectionAttemptsTotal)
	prometheus.MustRegister(TasksGeneratedTotal)
	prometheus.MustRegister(TaskGenerationDuration)
	prometheus.MustRegister(TasksDispatchedTotal)
	prometheus.MustRegister(TasksFailedTotal)
	prometheus.MustRegister(TaskPollLatency)
	prometheus.MustRegister(RebalanceCyclesTotal)
	prometheus.MustRegister(LoadCoefficientOfVariation)
	prometheus.MustRegister(ProcessesSpawnedTotal)
	prometheus.MustRegister(ProcessesExitedTotal)
	prometheus.MustRegister(ProcessesActive)
	prometheus.MustRegister(SchedulingCycleDuration)
	prometheus.MustRegister(HeartbeatTimeoutsTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
