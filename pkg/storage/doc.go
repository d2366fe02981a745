/*
Package storage provides BoltDB-backed persistence for a Server's view of
scheduler state: jobs, schedules, tasks, task instances, servers, agents,
namespaces, and the distributed lock row used for leader election.

# Architecture

Hetuflow uses BoltDB (bbolt) for embedded, transactional storage:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│  BoltStore                                                │
	│  - File: <dataDir>/hetuflow.db                            │
	│  - Format: B+tree with MVCC                               │
	│  - Transactions: ACID with fsync                          │
	│                                                            │
	│  Buckets (JSON value, entity ID as key):                  │
	│    jobs, schedules, tasks, task_instances,                │
	│    servers, agents, namespaces, locks                     │
	│                                                            │
	│  Secondary index:                                         │
	│    task_dedup: (schedule_id|scheduled_at) -> task_id      │
	│    enforces the Task Generator's idempotency invariant    │
	└────────────────────────────────────────────────────────────┘

# CRUD and CAS

Most entities follow the upsert pattern: Create and Update both Put the
full JSON value, keyed by ID. Two operations instead use
compare-and-swap within a single BoltDB write transaction rather than a
blind Put, because they arbitrate races between multiple Servers sharing
this store:

  - UpdateTaskCAS: checks the stored Task's Revision before mutating and
    persisting, so two Servers racing to claim the same Task can't both
    succeed.
  - AcquireOrRenewLock: the leader-election primitive. A single
    transaction reads the current DistributedLock row, decides whether
    holder may take or keep it (absent, expired, or already theirs),
    and writes the new Revision — this is the "UPDATE ... WHERE
    revision = ?" optimistic lock, expressed as a BoltDB transaction
    instead of a SQL statement.

CreateTaskIfAbsent is the idempotency boundary for generated tasks: it
consults the task_dedup secondary index before inserting, so a Task
Generator pass that re-derives the same (schedule_id, scheduled_at)
occurrence a second time is a no-op rather than a duplicate row.

# Integration Points

This package integrates with:

  - pkg/taskgen: CreateTaskIfAbsent for idempotent task expansion
  - pkg/leader: AcquireOrRenewLock/ReleaseLock for leader election
  - pkg/balancer: ListActiveServers/ListNamespaces for partitioning
  - pkg/schedsvc: heartbeat/timeout sweeps over Servers and Tasks
  - pkg/dispatch: CreateAgent/UpdateAgent on connect/disconnect/heartbeat
  - pkg/types: all entity definitions

# Errors

Get methods return ErrNotFound for an unknown ID. UpdateTaskCAS returns
ErrRevisionMismatch when the caller's expected revision is stale —
callers treat this as "someone else won the race" rather than a
failure. The lock operations report contention without an error:
AcquireOrRenewLock returns acquired=false, and ReleaseLock is a no-op
when holder no longer owns the lock.
*/
package storage
