// Package runner implements the Agent Connection Runner (C7): the
// Agent's single logical session with the Server, grounded on
// hetuflow-agent's connection/ws_runner.rs state machine
// (Disconnected -> Connecting -> Authenticating -> Connected) and its
// capped-exponential reconnect strategy (360 attempts, 1.05 rate).
//
// # Architecture
//
// Run dials, registers, and then pumps two directions concurrently
// from a single select loop: outbound EventMessages drained from a
// buffered channel (the Runner's Send method, used by process.Supervisor
// and the Task Scheduler as their outbound event sink) and inbound
// CommandMessages republished on a generic events.Broker[protocol.CommandMessage]
// for any number of subscribers.
//
// Any I/O error — send, receive, or registration failure — unwinds the
// whole session and the outer Run loop sleeps 10s before reconnecting,
// matching the source's run_loop wrapper. Only Stop ends the loop
// permanently.
//
// # Ordering
//
// Events enqueued on Send are delivered in enqueue order for as long as
// one session stays open. Across a reconnect no ordering is
// guaranteed; receivers (the Server's TaskInstanceUpdated handler) key
// off task id rather than sequence number for idempotency.
package runner
