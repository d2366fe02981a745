// Package taskscheduler implements the Agent Task Scheduler (C9): two
// concurrent loops that pull work from the Server and hand accepted
// Tasks to the Process Supervisor at their planned start time.
//
// # Architecture
//
// The polling loop computes available_capacity and load_factor from
// the injected Supervisor and sends a PollTaskRequest event through the
// injected EventSender whenever there is spare capacity and the Agent
// isn't already near its load_factor_threshold. The command loop
// subscribes to the Connection Runner's CommandMessage broker and
// reacts to PollTaskResponse, DispatchTask, and TaskControl frames. A
// third loop subscribes to the Supervisor's own ProcessEvent broker and
// translates process exits into outbound TaskInstanceUpdated events, so
// the Supervisor never needs to know about the wire protocol.
//
// # Design notes
//
// EventSender, CommandSource, and Supervisor are all narrow interfaces
// satisfied by pkg/runner.Runner and pkg/agent/process.Supervisor
// respectively — the Scheduler is tested against fakes of each rather
// than a live WebSocket session or real child processes.
package taskscheduler
