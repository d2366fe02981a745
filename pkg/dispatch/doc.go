// Package dispatch is the server-side counterpart to the Agent
// Gateway's inbound frames: it persists Agent identity on
// connect/heartbeat/disconnect, applies TaskInstanceUpdated reports to
// storage, and answers PollTaskRequest by claiming Tasks through the
// Task Generator's dispatch helper. It also exposes PushDispatch for
// the Server-initiated pathway, used when configuration favors pushing
// Tasks to Agents over waiting for them to poll.
package dispatch
