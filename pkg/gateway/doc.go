// Package gateway implements the Agent Registry / Gateway component
// (C6 in the scheduler design): the Server-side WebSocket endpoint that
// Agents dial into, the in-memory table of live sessions, and the
// AgentEvent broker that downstream components subscribe to.
//
// # Architecture
//
// One Gateway owns a map of agentID -> *AgentConnection. Each
// AgentConnection pairs a *websocket.Conn with a buffered outbound
// channel; a dedicated writePump goroutine is the only thing that ever
// calls conn.WriteJSON, since gorilla/websocket connections are not
// safe for concurrent writers. A second goroutine, readPump, owns
// conn.ReadJSON exclusively and either updates liveness (on Heartbeat
// frames) or republishes the frame as an AgentEvent.
//
// # Usage
//
// The server entrypoint (cmd/hetuflow-server) constructs one Gateway at
// startup, passing the dispatch Handler's OnEvent as the callback that
// applies AgentRegister, PollTaskRequest and TaskInstanceUpdated frames
// to storage. Every frame other than Heartbeat goes to that callback;
// Connected, Heartbeat, Unregistered and the inbound frames themselves
// are also published on the generic events.Broker[AgentEvent], which
// any component can Subscribe to independently.
//
// # Design notes
//
// The onEvent callback exists to avoid an import cycle: pkg/gateway
// cannot import pkg/dispatch (which needs to send replies back through
// a Gateway, via dispatch.AgentSender), so the storage-writing logic is
// injected at construction time instead.
//
// CleanupStaleConnections implements the Gateway's half of the
// connection health contract: a connection surviving this call has
// necessarily heartbeat within the given window. The Scheduler
// Service's timeout sweep does not call it; that sweep reads Agent
// heartbeats from storage.
package gateway
