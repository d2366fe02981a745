/*
Package types defines the core data structures shared across Hetuflow's
control plane and agents.

This package contains the domain model: jobs, schedules, tasks, task
instances, servers, agents, namespaces and the distributed lock row used
for leader election. These types are used by all other packages for
persistence, wire encoding, and scheduling logic.

# Core Types

Job Definition:
  - Job: a durable command template owned by a Namespace
  - JobConfig: command, args, working directory

Scheduling:
  - Schedule: cron/interval/event/daily rule that expands a Job into Tasks
  - ScheduleKind, ScheduleStatus: schedule classification and lifecycle

Execution:
  - Task: one scheduled execution, claimed by at most one Server/Agent
  - TaskStatus: pending → dispatched → running → succeeded/failed/...
  - TaskInstance: one OS-level attempt at running a Task
  - TaskInstanceStatus: pending → running → succeeded/failed/...

Topology:
  - Server: one instance of the control plane
  - Agent: one worker process, registered against a Server connection
  - Namespace: a routing shard partitioned across Servers
  - DistributedLock: the single row contended for by leader election

# State Machine

Tasks follow:

	Pending → Dispatched → Running → Succeeded
	                                → Failed → (retry: new Task row)
	                                → Cancelled
	                                → Timeout

Task.Active reports whether a Task is still eligible for dispatch or
retry; see its doc comment for the exact rule.

# Design Patterns

Enumeration Pattern:

	Most enums use typed string constants; TaskStatus uses a spaced int
	sequence instead so a later revision can insert an intermediate
	state without renumbering existing stored values.

Optional Fields:

	Optional fields use pointers (*time.Time, *int) so their absence is
	distinguishable from a zero value.

# Integration Points

This package integrates with:

  - pkg/storage: persists all types to BoltDB
  - pkg/protocol: wire-encodes Task/TaskInstance fields between agent and server
  - pkg/taskgen: expands Schedule into Task rows
  - pkg/balancer: reads Server/Namespace for load partitioning
  - pkg/gateway: tracks Agent connection state
  - pkg/agent/process: produces TaskInstance updates from process exit

# Thread Safety

All types in this package are plain data: read-safe to share, but
mutation must be synchronized by callers. The storage layer serializes
all writes through BoltDB transactions; in-memory caches (connection
maps, process tables) implement their own locking.
*/
package types
