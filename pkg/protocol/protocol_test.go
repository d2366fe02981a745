package protocol

import (
	"encoding/json"
	"testing"

	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchTaskPayloadCreation(t *testing.T) {
	jobID := uuid.NewString()
	taskID := uuid.NewString()

	payload := DispatchTaskPayload{
		JobID:          jobID,
		TaskID:         taskID,
		TaskName:       "test-task",
		ScheduleKind:   types.ScheduleKindCron,
		Command:        "echo hello",
		CronExpression: "0 12 * * *",
		Environment:    map[string]string{"ENV": "test"},
		Config:         types.JobConfig{Command: "echo", Args: []string{"hello"}},
		ScheduledAt:    1234567890,
		Priority:       5,
		Dependencies:   []string{uuid.NewString()},
	}

	assert.Equal(t, jobID, payload.JobID)
	assert.Equal(t, taskID, payload.TaskID)
	assert.Equal(t, types.ScheduleKindCron, payload.ScheduleKind)
	assert.Equal(t, "echo hello", payload.Command)
}

func TestDispatchTaskPayloadSerialization(t *testing.T) {
	payload := DispatchTaskPayload{
		JobID:        uuid.NewString(),
		TaskID:       uuid.NewString(),
		ScheduleKind: types.ScheduleKindInterval,
		Command:      "ls -la",
		Environment:  map[string]string{},
		ScheduledAt:  1234567890,
		Priority:     1,
	}

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded DispatchTaskPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, payload.JobID, decoded.JobID)
	assert.Equal(t, types.ScheduleKindInterval, decoded.ScheduleKind)
}

func TestDispatchTaskResponse(t *testing.T) {
	taskID := uuid.NewString()
	resp := DispatchTaskResponse{Success: true, Message: "Task accepted", TaskID: taskID}

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded DispatchTaskResponse
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.True(t, decoded.Success)
	assert.Equal(t, taskID, decoded.TaskID)
}

func TestTaskInstanceUpdatedCreation(t *testing.T) {
	progress := 0.75
	update := TaskInstanceUpdatedPayload{
		TaskID:    uuid.NewString(),
		AgentID:   uuid.NewString(),
		Status:    types.TaskInstanceStatusRunning,
		Timestamp: 1234567890,
		Output:    "output data",
		Progress:  &progress,
	}

	assert.Equal(t, types.TaskInstanceStatusRunning, update.Status)
	require.NotNil(t, update.Progress)
	assert.Equal(t, 0.75, *update.Progress)
}

func TestTaskInstanceUpdatedSerializationRoundTrip(t *testing.T) {
	exitCode := 1
	update := TaskInstanceUpdatedPayload{
		TaskID:       uuid.NewString(),
		AgentID:      uuid.NewString(),
		Status:       types.TaskInstanceStatusFailed,
		Timestamp:    1234567890,
		ErrorMessage: "error occurred",
		ExitCode:     &exitCode,
	}

	raw, err := json.Marshal(update)
	require.NoError(t, err)

	var decoded TaskInstanceUpdatedPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, update.TaskID, decoded.TaskID)
	assert.Equal(t, types.TaskInstanceStatusFailed, decoded.Status)
	assert.Equal(t, "error occurred", decoded.ErrorMessage)
	require.NotNil(t, decoded.ExitCode)
	assert.Equal(t, 1, *decoded.ExitCode)

	// the wire type has no instance_id field; only task_id + agent_id
	// identify which attempt a status update belongs to.
	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	_, hasInstanceID := asMap["instance_id"]
	assert.False(t, hasInstanceID)
}

func TestTaskControlCreation(t *testing.T) {
	taskID := uuid.NewString()
	control := TaskControlPayload{
		TaskID:      taskID,
		ControlType: TaskControlStop,
		Reason:      "User requested",
		Force:       true,
	}

	assert.Equal(t, taskID, control.TaskID)
	assert.Equal(t, TaskControlStop, control.ControlType)
	assert.True(t, control.Force)
}

func TestTaskControlSerialization(t *testing.T) {
	control := TaskControlPayload{TaskID: uuid.NewString(), ControlType: TaskControlPause, Force: false}

	raw, err := json.Marshal(control)
	require.NoError(t, err)

	var decoded TaskControlPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TaskControlPause, decoded.ControlType)
	assert.False(t, decoded.Force)
}

func TestPollTaskRequestResponse(t *testing.T) {
	req := PollTaskRequestPayload{AgentID: uuid.NewString(), MaxTasks: 5, AvailableCapacity: 3}
	resp := PollTaskResponsePayload{
		Tasks:            []DispatchTaskPayload{{TaskID: uuid.NewString()}},
		HasMore:          true,
		NextPollInterval: 2,
	}

	assert.EqualValues(t, 5, req.MaxTasks)
	assert.True(t, resp.HasMore)
	assert.Len(t, resp.Tasks, 1)
}

func TestEventMessageEnvelopeRoundTrip(t *testing.T) {
	agentID := uuid.NewString()
	hb := HeartbeatPayload{AgentID: agentID, ActiveTaskCount: 2, AvailableCapacity: 1}

	msg, err := NewEventMessage(EventHeartbeat, agentID, hb)
	require.NoError(t, err)
	assert.Equal(t, EventHeartbeat, msg.Kind)
	assert.Equal(t, agentID, msg.AgentID)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded EventMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var decodedPayload HeartbeatPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &decodedPayload))
	assert.Equal(t, hb.ActiveTaskCount, decodedPayload.ActiveTaskCount)
}

func TestCommandMessageEnvelopeRoundTrip(t *testing.T) {
	payload := AgentRegisteredPayload{Success: true, Message: "welcome", AgentID: uuid.NewString()}

	msg, err := NewCommandMessage(CommandAgentRegistered, payload)
	require.NoError(t, err)
	assert.Equal(t, CommandAgentRegistered, msg.Kind)

	var decodedPayload AgentRegisteredPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &decodedPayload))
	assert.True(t, decodedPayload.Success)
}
