// Package protocol defines the framed JSON messages exchanged over the
// Agent↔Server WebSocket channel.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/cuemby/hetuflow/pkg/types"
)

// EventKind tags the payload carried by an EventMessage, sent Agent→Server.
type EventKind string

const (
	EventAgentRegister     EventKind = "agent_register"
	EventHeartbeat         EventKind = "heartbeat"
	EventPollTaskRequest   EventKind = "poll_task_request"
	EventTaskInstanceUpdated EventKind = "task_instance_updated"
	EventAgentLogMessage   EventKind = "agent_log_message"
)

// CommandKind tags the payload carried by a CommandMessage, sent Server→Agent.
type CommandKind string

const (
	CommandDispatchTask    CommandKind = "dispatch_task"
	CommandPollTaskResponse CommandKind = "poll_task_response"
	CommandTaskControl     CommandKind = "task_control"
	CommandAgentRegistered CommandKind = "agent_registered"
	CommandShutdown        CommandKind = "shutdown"
)

// EventMessage is the envelope for every Agent→Server frame. Payload holds
// the raw JSON for whichever struct Kind names; callers decode it with
// DecodePayload once the Kind is known.
type EventMessage struct {
	Kind      EventKind       `json:"kind"`
	AgentID   string          `json:"agent_id"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// CommandMessage is the envelope for every Server→Agent frame.
type CommandMessage struct {
	Kind      CommandKind     `json:"kind"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// DecodePayload unmarshals the raw Payload into v once the caller has
// switched on Kind.
func (m *EventMessage) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// DecodePayload unmarshals the raw Payload into v once the caller has
// switched on Kind.
func (m *CommandMessage) DecodePayload(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// NewEventMessage marshals payload and wraps it in an EventMessage.
func NewEventMessage(kind EventKind, agentID string, payload any) (*EventMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &EventMessage{Kind: kind, AgentID: agentID, Timestamp: time.Now().Unix(), Payload: raw}, nil
}

// NewCommandMessage marshals payload and wraps it in a CommandMessage.
func NewCommandMessage(kind CommandKind, payload any) (*CommandMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &CommandMessage{Kind: kind, Timestamp: time.Now().Unix(), Payload: raw}, nil
}

// AgentRegisterPayload is sent once when an Agent opens a connection.
type AgentRegisterPayload struct {
	AgentID      string                  `json:"agent_id"`
	Name         string                  `json:"name,omitempty"`
	Capabilities types.AgentCapabilities `json:"capabilities"`
	LocalAddress string                  `json:"local_address,omitempty"`
}

// AgentRegisteredPayload is the Server's acknowledgement of registration.
type AgentRegisteredPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	AgentID string `json:"agent_id"`
}

// HeartbeatPayload is sent on the heartbeat interval (default 30s).
type HeartbeatPayload struct {
	AgentID          string `json:"agent_id"`
	ActiveTaskCount  int    `json:"active_task_count"`
	AvailableCapacity int   `json:"available_capacity"`
}

// DispatchTaskPayload carries one Task's execution shape, pushed by the
// Server or returned inside a PollTaskResponse. Field set is grounded on
// hetuflow-core/src/protocol/task.rs's DispatchTaskPayload.
type DispatchTaskPayload struct {
	JobID          string            `json:"job_id"`
	TaskID         string            `json:"task_id"`
	TaskName       string            `json:"task_name,omitempty"`
	ScheduleKind   types.ScheduleKind `json:"schedule_kind"`
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	CronExpression string            `json:"cron_expression,omitempty"`
	Environment    map[string]string `json:"environment"`
	Config         types.JobConfig   `json:"config"`
	ScheduledAt    int64             `json:"scheduled_at"`
	Priority       int               `json:"priority"`
	Dependencies   []string          `json:"dependencies,omitempty"`
}

// DispatchTaskResponse acknowledges a pushed DispatchTaskPayload.
type DispatchTaskResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// TaskInstanceUpdatedPayload reports a TaskInstance's status; the server
// records it against the TaskInstance identified by TaskID+AgentID. There
// is deliberately no instance_id field — hetuflow-core's wire type omits
// it too, identifying the attempt by (task_id, agent_id) instead.
type TaskInstanceUpdatedPayload struct {
	TaskID       string                    `json:"task_id"`
	AgentID      string                    `json:"agent_id"`
	Status       types.TaskInstanceStatus  `json:"status"`
	Timestamp    int64                     `json:"timestamp"`
	Output       string                    `json:"output,omitempty"`
	ErrorMessage string                    `json:"error_message,omitempty"`
	ExitCode     *int                      `json:"exit_code,omitempty"`
	Metrics      json.RawMessage           `json:"metrics,omitempty"`
	Progress     *float64                  `json:"progress,omitempty"`
}

// AgentLogMessagePayload forwards one line of stdout/stderr from a running
// process, tagged with the per-(instance,kind) sequence counter assigned
// by the Process Supervisor.
type AgentLogMessagePayload struct {
	TaskID     string `json:"task_id"`
	InstanceID string `json:"instance_id"`
	Stream     string `json:"stream"` // "stdout" or "stderr"
	Sequence   uint64 `json:"sequence"`
	Line       string `json:"line"`
	Timestamp  int64  `json:"timestamp"`
}

// TaskControlKind enumerates the control operations an agent may receive.
type TaskControlKind string

const (
	TaskControlStop   TaskControlKind = "stop"
	TaskControlPause  TaskControlKind = "pause"
	TaskControlResume TaskControlKind = "resume"
)

// TaskControlPayload asks the Agent to act on a running Task. Only Stop is
// wired to process termination; Pause/Resume are accepted and logged by
// the Agent Task Scheduler and have no process-level effect.
type TaskControlPayload struct {
	TaskID      string          `json:"task_id"`
	ControlType TaskControlKind `json:"control_type"`
	Reason      string          `json:"reason,omitempty"`
	Force       bool            `json:"force"`
}

// PollTaskRequestPayload is sent by an Agent to pull work rather than wait
// for a push.
type PollTaskRequestPayload struct {
	AgentID           string   `json:"agent_id"`
	MaxTasks          uint32   `json:"max_tasks"`
	Tags              []string `json:"tags,omitempty"`
	AvailableCapacity uint32   `json:"available_capacity"`
}

// PollTaskResponsePayload returns zero or more Tasks plus polling hints:
// HasMore makes the Agent Task Scheduler poll again immediately.
// NextPollInterval is carried on the wire, but the Agent does not read
// it and keeps its configured poll interval.
type PollTaskResponsePayload struct {
	Tasks            []DispatchTaskPayload `json:"tasks"`
	HasMore          bool                  `json:"has_more"`
	NextPollInterval uint32                `json:"next_poll_interval"`
}
