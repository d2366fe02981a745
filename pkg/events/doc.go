/*
Package events provides a generic, in-memory publish/subscribe broker
used for fan-out notification inside a single server or agent process.

Broker is parameterized over the payload type so each domain owns its
own event shape rather than sharing one flat enum across subsystems:

  - pkg/gateway defines AgentEvent (AgentEventConnected,
    AgentEventHeartbeat, AgentEventUpdated, AgentEventLogLine,
    AgentEventUnregistered) and runs a Broker[AgentEvent]; the server
    entrypoint subscribes to it to forward heartbeats and disconnects
    to the dispatch Handler.
  - pkg/agent/process defines ProcessEvent (ProcessEventRunning,
    ProcessEventExited, ProcessEventKilled) and runs a
    Broker[ProcessEvent] to notify the Agent
    Task Scheduler of process lifecycle transitions without the
    supervisor importing the scheduler package.

# Architecture

	Publisher → eventCh (buffer 100) → broadcast loop → subscriber channels (buffer 50 each)

Publish is non-blocking: a full subscriber buffer causes that
subscriber to miss the event rather than stall the publisher.

# Usage

	type AgentEvent struct {
		Kind    string
		AgentID string
	}

	broker := events.NewBroker[AgentEvent]()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for evt := range sub {
			handle(evt)
		}
	}()

	broker.Publish(&AgentEvent{Kind: "connected", AgentID: "agt-1"})

# Design Patterns

Non-blocking publish, fan-out to independent per-subscriber channels,
fire-and-forget delivery: no acknowledgment, no retry. A type parameter
in place of a shared sum-type enum keeps each subsystem's event
vocabulary local to that subsystem.

# Limitations

In-memory only, no persistence or replay, no delivery guarantee. A
subscriber that falls behind silently drops events; callers that need
durability should persist state transitions through storage.Store
instead of relying on event delivery.
*/
package events
