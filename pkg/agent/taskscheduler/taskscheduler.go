// Package taskscheduler implements the Agent Task Scheduler (C9): the
// Agent-side loop that polls the Server for work and schedules accepted
// Tasks' execution at their planned start time, handing them to the
// Process Supervisor.
package taskscheduler

import (
	"sync"
	"time"

	"github.com/cuemby/hetuflow/pkg/agent/process"
	"github.com/cuemby/hetuflow/pkg/events"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/rs/zerolog"
)

// EventSender is the Connection Runner's outbound half.
type EventSender interface {
	Send(msg *protocol.EventMessage)
}

// CommandSource is the Connection Runner's inbound half.
type CommandSource interface {
	Subscribe() events.Subscriber[protocol.CommandMessage]
	Unsubscribe(events.Subscriber[protocol.CommandMessage])
}

// Supervisor is the Process Supervisor's surface the Scheduler needs.
type Supervisor interface {
	AvailableCapacity() int
	Spawn(req process.SpawnRequest) (*process.ProcessInfo, error)
	Kill(instanceID string) error
	Subscribe() events.Subscriber[process.ProcessEvent]
	Unsubscribe(events.Subscriber[process.ProcessEvent])
}

// Scheduler runs the Agent's polling and task execution loops.
type Scheduler struct {
	agentID       string
	maxConcurrent int
	cfg           Config
	sender        EventSender
	commands      CommandSource
	supervisor    Supervisor
	logger        zerolog.Logger

	stopCh chan struct{}

	mu      sync.Mutex
	timers  map[string]*time.Timer
}

// New constructs a Scheduler. maxConcurrent is the Agent's configured
// process capacity, used to compute load_factor.
func New(agentID string, maxConcurrent int, cfg Config, sender EventSender, commands CommandSource, supervisor Supervisor) *Scheduler {
	return &Scheduler{
		agentID:       agentID,
		maxConcurrent: maxConcurrent,
		cfg:           cfg,
		sender:        sender,
		commands:      commands,
		supervisor:    supervisor,
		logger:        log.WithComponent("taskscheduler"),
		stopCh:        make(chan struct{}),
		timers:        make(map[string]*time.Timer),
	}
}

// Start launches the polling loop, the command loop, and the process
// event translation loop.
func (s *Scheduler) Start() {
	go s.pollLoop()
	go s.commandLoop()
	go s.processEventLoop()
}

// Stop ends all loops and cancels any pending execution timers.
func (s *Scheduler) Stop() {
	close(s.stopCh)

	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.mu.Unlock()
}

func (s *Scheduler) pollLoop() {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.maybePoll()
		}
	}
}

func (s *Scheduler) maybePoll() {
	capacity := s.supervisor.AvailableCapacity()
	if capacity <= 0 || s.maxConcurrent <= 0 {
		return
	}

	active := s.maxConcurrent - capacity
	loadFactor := float64(active) / float64(s.maxConcurrent)
	if loadFactor >= s.cfg.LoadFactorThreshold {
		return
	}

	msg, err := protocol.NewEventMessage(protocol.EventPollTaskRequest, s.agentID, protocol.PollTaskRequestPayload{
		AgentID:           s.agentID,
		MaxTasks:          uint32(capacity),
		Tags:              s.cfg.Tags,
		AvailableCapacity: uint32(capacity),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build poll request")
		return
	}
	s.sender.Send(msg)
}

func (s *Scheduler) commandLoop() {
	sub := s.commands.Subscribe()
	defer s.commands.Unsubscribe(sub)

	for {
		select {
		case <-s.stopCh:
			return
		case cmd, ok := <-sub:
			if !ok {
				return
			}
			s.handleCommand(cmd)
		}
	}
}

func (s *Scheduler) handleCommand(cmd *protocol.CommandMessage) {
	switch cmd.Kind {
	case protocol.CommandPollTaskResponse:
		var payload protocol.PollTaskResponsePayload
		if err := cmd.DecodePayload(&payload); err != nil {
			s.logger.Warn().Err(err).Msg("malformed poll task response")
			return
		}
		for _, task := range payload.Tasks {
			s.scheduleExecution(task)
		}
		if payload.HasMore {
			s.maybePoll()
		}
	case protocol.CommandDispatchTask:
		var payload protocol.DispatchTaskPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			s.logger.Warn().Err(err).Msg("malformed dispatch task command")
			return
		}
		s.scheduleExecution(payload)
	case protocol.CommandTaskControl:
		var payload protocol.TaskControlPayload
		if err := cmd.DecodePayload(&payload); err != nil {
			s.logger.Warn().Err(err).Msg("malformed task control command")
			return
		}
		s.handleControl(payload)
	}
}

func (s *Scheduler) scheduleExecution(task protocol.DispatchTaskPayload) {
	delay := time.Until(time.Unix(task.ScheduledAt, 0))
	if delay < 0 {
		delay = 0
	}

	s.logger.Info().Str("task_id", task.TaskID).Dur("delay", delay).Msg("scheduling task execution")

	timer := time.AfterFunc(delay, func() {
		s.mu.Lock()
		delete(s.timers, task.TaskID)
		s.mu.Unlock()
		s.execute(task)
	})

	s.mu.Lock()
	s.timers[task.TaskID] = timer
	s.mu.Unlock()
}

func (s *Scheduler) execute(task protocol.DispatchTaskPayload) {
	_, err := s.supervisor.Spawn(process.SpawnRequest{
		InstanceID:  task.TaskID,
		TaskID:      task.TaskID,
		JobID:       task.JobID,
		Command:     task.Command,
		Args:        task.Args,
		Environment: task.Environment,
	})
	if err == nil {
		return
	}

	s.logger.Warn().Err(err).Str("task_id", task.TaskID).Msg("failed to spawn task")
	s.sendUpdate(task.TaskID, types.TaskInstanceStatusFailed, err.Error(), nil)
}

func (s *Scheduler) handleControl(payload protocol.TaskControlPayload) {
	if payload.ControlType != protocol.TaskControlStop {
		s.logger.Info().Str("task_id", payload.TaskID).Str("control", string(payload.ControlType)).Msg("control type accepted, no process-level effect")
		return
	}

	s.mu.Lock()
	if timer, pending := s.timers[payload.TaskID]; pending {
		timer.Stop()
		delete(s.timers, payload.TaskID)
	}
	s.mu.Unlock()

	_ = s.supervisor.Kill(payload.TaskID)
	s.sendUpdate(payload.TaskID, types.TaskInstanceStatusCancelled, payload.Reason, nil)
}

func (s *Scheduler) processEventLoop() {
	sub := s.supervisor.Subscribe()
	defer s.supervisor.Unsubscribe(sub)

	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			s.handleProcessEvent(ev)
		}
	}
}

func (s *Scheduler) handleProcessEvent(ev *process.ProcessEvent) {
	if ev.Kind != process.ProcessEventExited {
		return
	}

	status := types.TaskInstanceStatusFailed
	if ev.Info.Status == process.ProcessStatusSucceeded {
		status = types.TaskInstanceStatusSucceeded
	}
	s.sendUpdate(ev.Info.TaskID, status, "", ev.Info.ExitCode)
}

func (s *Scheduler) sendUpdate(taskID string, status types.TaskInstanceStatus, errMsg string, exitCode *int) {
	msg, err := protocol.NewEventMessage(protocol.EventTaskInstanceUpdated, s.agentID, protocol.TaskInstanceUpdatedPayload{
		TaskID:       taskID,
		AgentID:      s.agentID,
		Status:       status,
		Timestamp:    time.Now().Unix(),
		ErrorMessage: errMsg,
		ExitCode:     exitCode,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build task instance update")
		return
	}
	s.sender.Send(msg)
}
