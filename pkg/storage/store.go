package storage

import (
	"time"

	"github.com/cuemby/hetuflow/pkg/types"
)

// Store defines the interface for scheduler state storage: jobs,
// schedules, tasks, task instances, servers, agents, namespaces and the
// distributed lock row used for leader election.
type Store interface {
	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id string) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id string) error

	// Schedules
	CreateSchedule(schedule *types.Schedule) error
	GetSchedule(id string) (*types.Schedule, error)
	ListSchedules() ([]*types.Schedule, error)
	ListActiveSchedules() ([]*types.Schedule, error)
	UpdateSchedule(schedule *types.Schedule) error
	DeleteSchedule(id string) error

	// Tasks
	CreateTaskIfAbsent(task *types.Task) (created bool, err error)
	GetTask(id string) (*types.Task, error)
	ListTasks() ([]*types.Task, error)
	ListActiveTasks() ([]*types.Task, error)
	ListTasksByServer(serverID string) ([]*types.Task, error)
	UpdateTask(task *types.Task) error
	// UpdateTaskCAS applies mutate to the stored Task only if its
	// Revision still matches expectedRevision, incrementing it on
	// success. Used for claim/dispatch races between Servers.
	UpdateTaskCAS(id string, expectedRevision int64, mutate func(*types.Task)) error
	DeleteTask(id string) error

	// Task instances
	CreateTaskInstance(instance *types.TaskInstance) error
	GetTaskInstance(id string) (*types.TaskInstance, error)
	ListTaskInstancesByTask(taskID string) ([]*types.TaskInstance, error)
	ListRunningTaskInstances() ([]*types.TaskInstance, error)
	UpdateTaskInstance(instance *types.TaskInstance) error

	// Servers
	CreateServer(server *types.Server) error
	GetServer(id string) (*types.Server, error)
	ListServers() ([]*types.Server, error)
	ListActiveServers() ([]*types.Server, error)
	UpdateServer(server *types.Server) error
	DeleteServer(id string) error

	// Agents
	CreateAgent(agent *types.Agent) error
	GetAgent(id string) (*types.Agent, error)
	ListAgents() ([]*types.Agent, error)
	UpdateAgent(agent *types.Agent) error
	DeleteAgent(id string) error

	// Namespaces
	CreateNamespace(ns *types.Namespace) error
	GetNamespace(id string) (*types.Namespace, error)
	ListNamespaces() ([]*types.Namespace, error)
	UpdateNamespace(ns *types.Namespace) error

	// Distributed lock (leader election)
	GetLock(id string) (*types.DistributedLock, error)
	// AcquireOrRenewLock performs a single CAS attempt: it succeeds if
	// the lock is unheld, expired, or already held by holder, bumping
	// Revision and ExpireAt on success.
	AcquireOrRenewLock(id, holder string, ttl time.Duration, now time.Time) (acquired bool, lock *types.DistributedLock, err error)
	ReleaseLock(id, holder string) error

	// Utility
	Close() error
}
