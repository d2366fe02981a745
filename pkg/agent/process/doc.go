// Package process implements the Agent Process Supervisor (C8), the
// Agent-side component that turns a dispatched Task into an OS
// process: it spawns the command, enforces a concurrency cap, forwards
// stdout/stderr line-by-line as AgentLogMessage events, and tears
// processes down on request or at shutdown.
//
// # Architecture
//
// A Supervisor holds a map of instance id -> processItem, guarded by a
// mutex (grounded on process_manager.rs's active_processes map). Spawn
// starts the child with its own process group (POSIX only) so Kill can
// signal the whole group, not just the immediate child. Two goroutines
// per process scan stdout/stderr independently, each keeping its own
// sequence counter, and a third goroutine blocks on cmd.Wait() to
// record the exit outcome.
//
// Every transition (Running, Exited, Killed) is published on a generic
// events.Broker[ProcessEvent]; the Agent Task Scheduler subscribes to
// it rather than the Supervisor calling back into the scheduler. The
// process metrics (active, spawned, exited) are updated by the
// Supervisor itself in Spawn and wait.
//
// # Usage
//
// The Connection Runner's outbound queue is injected at construction
// time as an EventSender, so the Supervisor can emit AgentLogMessage
// frames without importing pkg/runner.
package process
