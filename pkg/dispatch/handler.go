package dispatch

import (
	"time"

	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/taskgen"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AgentSender is the Gateway's outbound half. Declaring it here instead
// of importing pkg/gateway avoids a cycle: the Gateway is constructed
// with this Handler's OnEvent as its onEvent callback, and the Handler
// in turn needs a way to send replies back through that same Gateway.
type AgentSender interface {
	SendToAgent(agentID string, cmd *protocol.CommandMessage) error
}

// Handler applies every Agent↔Server frame the Gateway itself doesn't
// already handle (Heartbeat is handled in-process by the Gateway;
// everything else, AgentRegister included, is routed here).
type Handler struct {
	store  storage.Store
	gen    *taskgen.Generator
	selfID string
	sender AgentSender
	logger zerolog.Logger
}

// New constructs a Handler bound to selfID, this Server's stable id
// stamped onto every Task it claims.
func New(store storage.Store, gen *taskgen.Generator, selfID string) *Handler {
	return &Handler{
		store:  store,
		gen:    gen,
		selfID: selfID,
		logger: log.WithComponent("dispatch").With().Str("server_id", selfID).Logger(),
	}
}

// BindSender attaches the Gateway (or a test double) once it has been
// constructed with this Handler's OnEvent.
func (h *Handler) BindSender(sender AgentSender) {
	h.sender = sender
}

// OnConnect upserts the Agent row for a freshly registered session. The
// register → heartbeat → register round-trip law converges to the
// latest capabilities regardless of whether the Agent row already
// existed.
func (h *Handler) OnConnect(payload protocol.AgentRegisterPayload) {
	agent, err := h.store.GetAgent(payload.AgentID)
	isNew := err != nil
	if isNew {
		agent = &types.Agent{ID: payload.AgentID}
	}
	agent.Name = payload.Name
	agent.ServerID = h.selfID
	agent.Status = types.AgentStatusOnline
	agent.LastHeartbeat = time.Now()
	agent.Capabilities = payload.Capabilities

	if isNew {
		if err := h.store.CreateAgent(agent); err != nil {
			h.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to create agent row")
		}
		return
	}
	if err := h.store.UpdateAgent(agent); err != nil {
		h.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to update agent row")
	}
}

// OnDisconnect marks the Agent offline immediately rather than waiting
// out AgentOverdueTTL for the Scheduler Service's sweep to notice.
func (h *Handler) OnDisconnect(agentID string) {
	agent, err := h.store.GetAgent(agentID)
	if err != nil {
		return
	}
	agent.Status = types.AgentStatusOffline
	if err := h.store.UpdateAgent(agent); err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to mark agent offline on disconnect")
	}
}

// OnHeartbeat refreshes the Agent row's LastHeartbeat so the Scheduler
// Service's timeout sweep, which reads from storage rather than the
// Gateway's in-memory connection map, agrees with the live session.
func (h *Handler) OnHeartbeat(agentID string) {
	agent, err := h.store.GetAgent(agentID)
	if err != nil {
		return
	}
	agent.Status = types.AgentStatusOnline
	agent.LastHeartbeat = time.Now()
	if err := h.store.UpdateAgent(agent); err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("failed to persist heartbeat")
	}
}

// OnEvent is the Gateway's onEvent hook: it is invoked for every inbound
// frame other than Heartbeat.
func (h *Handler) OnEvent(agentID string, msg *protocol.EventMessage) {
	switch msg.Kind {
	case protocol.EventAgentRegister:
		var payload protocol.AgentRegisterPayload
		if err := msg.DecodePayload(&payload); err != nil {
			h.logger.Warn().Err(err).Msg("malformed agent register payload")
			return
		}
		h.OnConnect(payload)
	case protocol.EventPollTaskRequest:
		h.handlePoll(agentID, msg)
	case protocol.EventTaskInstanceUpdated:
		h.handleTaskInstanceUpdated(msg)
	case protocol.EventAgentLogMessage:
		// Relayed live via the Gateway's broker; durable sinks are external.
	}
}

func (h *Handler) handlePoll(agentID string, msg *protocol.EventMessage) {
	var req protocol.PollTaskRequestPayload
	if err := msg.DecodePayload(&req); err != nil {
		h.logger.Warn().Err(err).Msg("malformed poll task request")
		return
	}

	server, err := h.store.GetServer(h.selfID)
	if err != nil {
		h.logger.Error().Err(err).Msg("poll: self server row missing")
		return
	}

	timer := metrics.NewTimer()
	tasks, err := h.gen.ClaimForDispatch(h.selfID, server.NamespaceIDs, agentID, int(req.MaxTasks), req.Tags)
	timer.ObserveDuration(metrics.TaskPollLatency)
	if err != nil {
		h.logger.Error().Err(err).Str("agent_id", agentID).Msg("claim for dispatch failed")
		return
	}

	payload := protocol.PollTaskResponsePayload{
		Tasks:            toDispatchPayloads(tasks),
		NextPollInterval: 5,
	}
	cmd, err := protocol.NewCommandMessage(protocol.CommandPollTaskResponse, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to build poll task response")
		return
	}
	h.send(agentID, cmd)

	if len(tasks) > 0 {
		metrics.TasksDispatchedTotal.WithLabelValues("poll").Add(float64(len(tasks)))
	}
}

// PushDispatch sends tasks to agentID directly, one DispatchTask command
// per task (matching the Agent Task Scheduler's command decoding). It is
// the Server-initiated pathway, used instead of poll when configured
// that way.
func (h *Handler) PushDispatch(agentID string, tasks []*types.Task) error {
	for _, t := range tasks {
		cmd, err := protocol.NewCommandMessage(protocol.CommandDispatchTask, toDispatchPayloads([]*types.Task{t})[0])
		if err != nil {
			return err
		}
		if err := h.send(agentID, cmd); err != nil {
			return err
		}
	}
	if len(tasks) > 0 {
		metrics.TasksDispatchedTotal.WithLabelValues("push").Add(float64(len(tasks)))
	}
	return nil
}

func (h *Handler) send(agentID string, cmd *protocol.CommandMessage) error {
	if h.sender == nil {
		return nil
	}
	if err := h.sender.SendToAgent(agentID, cmd); err != nil {
		h.logger.Warn().Err(err).Str("agent_id", agentID).Msg("send to agent failed")
		return err
	}
	return nil
}

func toDispatchPayloads(tasks []*types.Task) []protocol.DispatchTaskPayload {
	out := make([]protocol.DispatchTaskPayload, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, protocol.DispatchTaskPayload{
			JobID:       t.JobID,
			TaskID:      t.ID,
			Command:     t.JobConfig.Command,
			Args:        t.JobConfig.Args,
			Environment: t.Environment,
			Config:      t.JobConfig,
			ScheduledAt: t.ScheduledAt.Unix(),
			Priority:    t.Priority,
		})
	}
	return out
}

func (h *Handler) handleTaskInstanceUpdated(msg *protocol.EventMessage) {
	var payload protocol.TaskInstanceUpdatedPayload
	if err := msg.DecodePayload(&payload); err != nil {
		h.logger.Warn().Err(err).Msg("malformed task instance update")
		return
	}

	task, err := h.store.GetTask(payload.TaskID)
	if err != nil {
		h.logger.Warn().Err(err).Str("task_id", payload.TaskID).Msg("task instance update for unknown task")
		return
	}

	task.Status = mapInstanceStatus(payload.Status)
	task.ErrorMessage = payload.ErrorMessage
	task.UpdatedAt = time.Now()
	if task.Status == types.TaskStatusFailed {
		metrics.TasksFailedTotal.Inc()
	}
	if err := h.store.UpdateTask(task); err != nil {
		h.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist task status")
	}

	h.upsertInstance(task, &payload)
}

func (h *Handler) upsertInstance(task *types.Task, payload *protocol.TaskInstanceUpdatedPayload) {
	var inst *types.TaskInstance
	if instances, err := h.store.ListTaskInstancesByTask(task.ID); err == nil {
		for _, i := range instances {
			if i.AgentID == payload.AgentID {
				inst = i
				break
			}
		}
	}

	now := time.Now()
	isNew := inst == nil
	if isNew {
		inst = &types.TaskInstance{
			ID:        uuid.Must(uuid.NewV7()).String(),
			TaskID:    task.ID,
			ServerID:  h.selfID,
			AgentID:   payload.AgentID,
			StartedAt: &now,
		}
	}

	inst.Status = payload.Status
	inst.Output = payload.Output
	inst.ErrorMessage = payload.ErrorMessage
	inst.ExitCode = payload.ExitCode
	inst.Metrics = payload.Metrics
	if payload.Progress != nil {
		p := int(*payload.Progress * 100)
		inst.Progress = &p
	}
	if isTerminal(payload.Status) {
		inst.CompletedAt = &now
	}

	if isNew {
		if err := h.store.CreateTaskInstance(inst); err != nil {
			h.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to create task instance")
		}
		return
	}
	if err := h.store.UpdateTaskInstance(inst); err != nil {
		h.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to update task instance")
	}
}

func mapInstanceStatus(s types.TaskInstanceStatus) types.TaskStatus {
	switch s {
	case types.TaskInstanceStatusRunning:
		return types.TaskStatusRunning
	case types.TaskInstanceStatusSucceeded:
		return types.TaskStatusSucceeded
	case types.TaskInstanceStatusFailed:
		return types.TaskStatusFailed
	case types.TaskInstanceStatusCancelled:
		return types.TaskStatusCancelled
	case types.TaskInstanceStatusTimeout:
		return types.TaskStatusTimeout
	default:
		return types.TaskStatusPending
	}
}

func isTerminal(s types.TaskInstanceStatus) bool {
	switch s {
	case types.TaskInstanceStatusSucceeded, types.TaskInstanceStatusFailed,
		types.TaskInstanceStatusCancelled, types.TaskInstanceStatusTimeout:
		return true
	default:
		return false
	}
}
