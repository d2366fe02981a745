package types

import (
	"encoding/json"
	"time"
)

// Job is a durable template of work: a command plus environment, owned by
// a Namespace and expanded into Tasks by the Schedules that reference it.
type Job struct {
	ID          string            `json:"id"`
	NamespaceID string            `json:"namespace_id"`
	Name        string            `json:"name"`
	Config      JobConfig         `json:"config"`
	Environment map[string]string `json:"environment"`
	Tags        []string          `json:"tags"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// JobConfig is the executable shape of a Job.
type JobConfig struct {
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	WorkingDir string   `json:"working_dir,omitempty"`
}

// ScheduleKind enumerates how a Schedule turns a Job into Tasks.
type ScheduleKind string

const (
	ScheduleKindCron     ScheduleKind = "cron"
	ScheduleKindInterval ScheduleKind = "interval"
	ScheduleKindEvent    ScheduleKind = "event"
	ScheduleKindDaily    ScheduleKind = "daily"
)

// ScheduleStatus is the lifecycle state of a Schedule.
type ScheduleStatus string

const (
	ScheduleStatusActive   ScheduleStatus = "active"
	ScheduleStatusExpired  ScheduleStatus = "expired"
	ScheduleStatusDisabled ScheduleStatus = "disabled"
)

// Schedule is the rule that expands a Job into dated Tasks.
type Schedule struct {
	ID             string         `json:"id"`
	JobID          string         `json:"job_id"`
	Kind           ScheduleKind   `json:"schedule_kind"`
	CronExpression string         `json:"cron_expression,omitempty"`
	IntervalSecs   int64          `json:"interval_secs,omitempty"`
	StartTime      *time.Time     `json:"start_time,omitempty"`
	EndTime        *time.Time     `json:"end_time,omitempty"`
	MaxCount       int            `json:"max_count,omitempty"`
	Status         ScheduleStatus `json:"status"`
	LastGeneratedAt *time.Time    `json:"last_generated_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TaskStatus is the lifecycle state of a Task row. Values are spaced by
// ten so a redesign can insert an intermediate state without renumbering.
type TaskStatus int

const (
	TaskStatusPending TaskStatus = iota * 10
	TaskStatusDispatched
	TaskStatusRunning
	TaskStatusSucceeded
	TaskStatusFailed
	TaskStatusCancelled
	TaskStatusTimeout
)

// String renders a TaskStatus for logging and protocol encoding.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusPending:
		return "pending"
	case TaskStatusDispatched:
		return "dispatched"
	case TaskStatusRunning:
		return "running"
	case TaskStatusSucceeded:
		return "succeeded"
	case TaskStatusFailed:
		return "failed"
	case TaskStatusCancelled:
		return "cancelled"
	case TaskStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Task is a concrete scheduled execution of a Job, claimed by at most one
// Server/Agent pair at a time.
type Task struct {
	ID           string            `json:"id"`
	JobID        string            `json:"job_id"`
	NamespaceID  string            `json:"namespace_id"`
	ScheduleID   string            `json:"schedule_id,omitempty"`
	ServerID     string            `json:"server_id,omitempty"`
	AgentID      string            `json:"agent_id,omitempty"`
	Priority     int               `json:"priority"`
	ScheduledAt  time.Time         `json:"scheduled_at"`
	Status       TaskStatus        `json:"status"`
	Tags         []string          `json:"tags,omitempty"`
	Environment  map[string]string `json:"environment,omitempty"`
	JobConfig    JobConfig         `json:"job_config"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	LockedAt     *time.Time        `json:"locked_at,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Revision     int64             `json:"revision"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Active reports whether a Task is still eligible for dispatch or retry:
// anything short of a terminal failure, or a failure with budget left.
func (t *Task) Active() bool {
	if t.Status < TaskStatusFailed {
		return true
	}
	return t.Status == TaskStatusFailed && t.RetryCount < t.MaxRetries
}

// TaskInstanceStatus is the lifecycle state of one process attempt.
type TaskInstanceStatus string

const (
	TaskInstanceStatusPending   TaskInstanceStatus = "pending"
	TaskInstanceStatusRunning   TaskInstanceStatus = "running"
	TaskInstanceStatusSucceeded TaskInstanceStatus = "succeeded"
	TaskInstanceStatusFailed    TaskInstanceStatus = "failed"
	TaskInstanceStatusCancelled TaskInstanceStatus = "cancelled"
	TaskInstanceStatusTimeout   TaskInstanceStatus = "timeout"
)

// TaskInstance is a single OS-level attempt at running a Task.
type TaskInstance struct {
	ID           string             `json:"id"`
	TaskID       string             `json:"task_id"`
	ServerID     string             `json:"server_id,omitempty"`
	AgentID      string             `json:"agent_id,omitempty"`
	Status       TaskInstanceStatus `json:"status"`
	StartedAt    *time.Time         `json:"started_at,omitempty"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
	ExitCode     *int               `json:"exit_code,omitempty"`
	Output       string             `json:"output,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Progress     *int               `json:"progress,omitempty"`
	// Metrics is left opaque (see DESIGN.md open-question resolutions):
	// the agent is free to attach whatever process metrics it collects.
	Metrics json.RawMessage `json:"metrics,omitempty"`
}

// ServerStatus is the liveness state of a control-plane Server.
type ServerStatus string

const (
	ServerStatusActive   ServerStatus = "active"
	ServerStatusInactive ServerStatus = "inactive"
)

// Server is one instance of the control plane.
type Server struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Address      string       `json:"address"`
	Status       ServerStatus `json:"status"`
	NamespaceIDs []string     `json:"namespace_ids"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// AgentStatus is the connectivity state of a worker Agent.
type AgentStatus string

const (
	AgentStatusOnline  AgentStatus = "online"
	AgentStatusOffline AgentStatus = "offline"
)

// AgentCapabilities advertises what an Agent is willing and able to run.
type AgentCapabilities struct {
	MaxConcurrentTasks int               `json:"max_concurrent_tasks"`
	Labels             []string          `json:"labels,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Agent is a worker process registered against exactly one Server
// connection at a time.
type Agent struct {
	ID            string            `json:"id"`
	Name          string            `json:"name,omitempty"`
	ServerID      string            `json:"server_id,omitempty"`
	Status        AgentStatus       `json:"status"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	Capabilities  AgentCapabilities `json:"capabilities"`
}

// NamespaceStatus enables or disables routing through a Namespace.
type NamespaceStatus string

const (
	NamespaceStatusEnabled  NamespaceStatus = "enabled"
	NamespaceStatusDisabled NamespaceStatus = "disabled"
)

// Namespace is a routing shard; every Task belongs to exactly one, and the
// Load Balancer partitions namespaces across Servers.
type Namespace struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Status NamespaceStatus `json:"status"`
}

// DistributedLock is a single named row used for optimistic-lock leader
// election: mutual exclusion comes entirely from a compare-and-swap on
// Revision, never from a replicated log.
type DistributedLock struct {
	ID       string    `json:"id"`
	Holder   string    `json:"holder,omitempty"`
	ExpireAt time.Time `json:"expire_at"`
	Revision int64     `json:"revision"`
}

// SchedServerLeaderLock is the well-known lock name contended for by every
// Server's Leader Elector.
const SchedServerLeaderLock = "sched_server_leader"
