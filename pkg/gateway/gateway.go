// Package gateway implements the Agent Registry / Gateway (C6): the
// Server-side in-memory map of connected Agents, the event bus fed by
// their inbound frames, and the WebSocket upgrade handler accepting
// new sessions.
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/cuemby/hetuflow/pkg/events"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AgentEvent is published on the Gateway's broker for every inbound
// frame and connection lifecycle transition.
type AgentEvent struct {
	Kind      string
	AgentID   string
	RemoteAddr string
	Reason    string
	Message   *protocol.EventMessage
}

const (
	AgentEventConnected   = "connected"
	AgentEventHeartbeat   = "heartbeat"
	AgentEventUpdated     = "task_instance_updated"
	AgentEventLogLine     = "log_line"
	AgentEventUnregistered = "unregistered"
)

// AgentConnection is the Gateway's borrowed handle on one live Agent
// session: a bounded outbound queue drained by a writer goroutine, and
// liveness bookkeeping updated by inbound heartbeats.
type AgentConnection struct {
	AgentID string
	Address string
	conn    *websocket.Conn
	send    chan *protocol.CommandMessage

	mu            sync.Mutex
	lastHeartbeat time.Time
	failureCount  int
}

func (c *AgentConnection) touchHeartbeat() {
	c.mu.Lock()
	c.lastHeartbeat = time.Now()
	c.failureCount = 0
	c.mu.Unlock()
}

func (c *AgentConnection) recordFailure() {
	c.mu.Lock()
	c.failureCount++
	c.mu.Unlock()
}

func (c *AgentConnection) heartbeatBefore(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat.Before(cutoff)
}

// Gateway holds the live Agent connection map and fans out AgentEvents
// to subscribers (in this module, the server entrypoint's lifecycle
// forwarder).
type Gateway struct {
	mu          sync.RWMutex
	connections map[string]*AgentConnection

	broker   *events.Broker[AgentEvent]
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	onEvent func(agentID string, msg *protocol.EventMessage)
}

// New creates a Gateway. onEvent, if non-nil, is invoked synchronously
// for every inbound EventMessage other than Heartbeat (which the
// Gateway handles itself) — including the initial AgentRegister, before
// the connection is added — it is the hook the dispatch Handler uses to
// persist Agent identity and apply TaskInstanceUpdated/PollTaskRequest
// to storage.
func New(onEvent func(agentID string, msg *protocol.EventMessage)) *Gateway {
	g := &Gateway{
		connections: make(map[string]*AgentConnection),
		broker:      events.NewBroker[AgentEvent](),
		logger:      log.WithComponent("gateway"),
		onEvent:     onEvent,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	g.broker.Start()
	return g
}

// Subscribe returns a channel of AgentEvents; callers must Unsubscribe.
func (g *Gateway) Subscribe() events.Subscriber[AgentEvent] {
	return g.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (g *Gateway) Unsubscribe(sub events.Subscriber[AgentEvent]) {
	g.broker.Unsubscribe(sub)
}

// ServeWebSocket upgrades the request and runs the session until the
// Agent disconnects or the read loop errors.
func (g *Gateway) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	var register protocol.EventMessage
	if err := conn.ReadJSON(&register); err != nil || register.Kind != protocol.EventAgentRegister {
		g.logger.Warn().Err(err).Msg("first frame was not AgentRegister, closing")
		_ = conn.Close()
		return
	}

	var payload protocol.AgentRegisterPayload
	if err := register.DecodePayload(&payload); err != nil {
		g.logger.Warn().Err(err).Msg("malformed AgentRegister payload, closing")
		_ = conn.Close()
		return
	}

	if g.onEvent != nil {
		g.onEvent(payload.AgentID, &register)
	}

	agentConn := g.AddConnection(payload.AgentID, payload.LocalAddress, conn)
	ack, _ := protocol.NewCommandMessage(protocol.CommandAgentRegistered, protocol.AgentRegisteredPayload{
		AgentID: payload.AgentID, Success: true, Message: "registered",
	})
	agentConn.send <- ack

	go g.writePump(agentConn)
	g.readPump(agentConn)
}

func (g *Gateway) writePump(c *AgentConnection) {
	for cmd := range c.send {
		if err := c.conn.WriteJSON(cmd); err != nil {
			g.logger.Warn().Err(err).Str("agent_id", c.AgentID).Msg("write to agent failed")
			g.RemoveConnection(c.AgentID, "write failure")
			return
		}
	}
}

func (g *Gateway) readPump(c *AgentConnection) {
	defer g.RemoveConnection(c.AgentID, "connection closed")
	for {
		var msg protocol.EventMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Kind {
		case protocol.EventHeartbeat:
			g.UpdateHeartbeat(c.AgentID)
		default:
			g.broker.Publish(&AgentEvent{Kind: eventKindLabel(msg.Kind), AgentID: c.AgentID, Message: &msg})
			if g.onEvent != nil {
				g.onEvent(c.AgentID, &msg)
			}
		}
	}
}

func eventKindLabel(k protocol.EventKind) string {
	switch k {
	case protocol.EventTaskInstanceUpdated:
		return AgentEventUpdated
	case protocol.EventAgentLogMessage:
		return AgentEventLogLine
	default:
		return string(k)
	}
}

// AddConnection registers a new Agent session, publishing Connected.
func (g *Gateway) AddConnection(agentID, address string, conn *websocket.Conn) *AgentConnection {
	c := &AgentConnection{
		AgentID:       agentID,
		Address:       address,
		conn:          conn,
		send:          make(chan *protocol.CommandMessage, 64),
		lastHeartbeat: time.Now(),
	}

	g.mu.Lock()
	g.connections[agentID] = c
	g.mu.Unlock()

	metrics.AgentConnections.Set(float64(g.Count()))
	g.logger.Info().Str("agent_id", agentID).Str("address", address).Msg("agent connected")
	g.broker.Publish(&AgentEvent{Kind: AgentEventConnected, AgentID: agentID, RemoteAddr: address})
	return c
}

// RemoveConnection drops a session and publishes Unregistered. Safe to
// call more than once for the same agentID.
func (g *Gateway) RemoveConnection(agentID, reason string) {
	g.mu.Lock()
	c, ok := g.connections[agentID]
	if ok {
		delete(g.connections, agentID)
	}
	g.mu.Unlock()
	if !ok {
		return
	}

	close(c.send)
	_ = c.conn.Close()
	metrics.AgentConnections.Set(float64(g.Count()))
	g.logger.Info().Str("agent_id", agentID).Str("reason", reason).Msg("agent disconnected")
	g.broker.Publish(&AgentEvent{Kind: AgentEventUnregistered, AgentID: agentID, Reason: reason})
}

// UpdateHeartbeat refreshes an Agent's liveness and resets its
// consecutive-failure counter.
func (g *Gateway) UpdateHeartbeat(agentID string) {
	g.mu.RLock()
	c, ok := g.connections[agentID]
	g.mu.RUnlock()
	if !ok {
		return
	}
	c.touchHeartbeat()
	g.broker.Publish(&AgentEvent{Kind: AgentEventHeartbeat, AgentID: agentID})
}

// SendToAgent writes command to the Agent's send-half.
func (g *Gateway) SendToAgent(agentID string, cmd *protocol.CommandMessage) error {
	g.mu.RLock()
	c, ok := g.connections[agentID]
	g.mu.RUnlock()
	if !ok {
		return &ConnectionNotFound{AgentID: agentID}
	}

	select {
	case c.send <- cmd:
		return nil
	default:
		c.recordFailure()
		return &ConnectionNotFound{AgentID: agentID}
	}
}

// BroadcastToAll best-effort sends cmd to every connected Agent.
func (g *Gateway) BroadcastToAll(cmd *protocol.CommandMessage) {
	g.mu.RLock()
	ids := make([]string, 0, len(g.connections))
	for id := range g.connections {
		ids = append(ids, id)
	}
	g.mu.RUnlock()

	for _, id := range ids {
		if err := g.SendToAgent(id, cmd); err != nil {
			g.logger.Warn().Str("agent_id", id).Msg("broadcast send failed, agent marked lost on next sweep")
		}
	}
}

// CleanupStaleConnections removes every connection whose last
// heartbeat exceeds timeout, publishing Unregistered{reason="Heartbeat
// timeout"} for each.
func (g *Gateway) CleanupStaleConnections(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout)

	g.mu.RLock()
	conns := make(map[string]*AgentConnection, len(g.connections))
	for id, c := range g.connections {
		conns[id] = c
	}
	g.mu.RUnlock()

	var stale []string
	for id, c := range conns {
		if c.heartbeatBefore(cutoff) {
			stale = append(stale, id)
		}
	}

	for _, id := range stale {
		g.RemoveConnection(id, "Heartbeat timeout")
	}
}

// Count returns the number of live connections.
func (g *Gateway) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.connections)
}
