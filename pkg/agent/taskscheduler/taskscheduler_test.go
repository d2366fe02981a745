package taskscheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hetuflow/pkg/agent/process"
	"github.com/cuemby/hetuflow/pkg/events"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []*protocol.EventMessage
}

func (f *fakeSender) Send(msg *protocol.EventMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeSender) last() *protocol.EventMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	return f.msgs[len(f.msgs)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type fakeCommandSource struct {
	broker *events.Broker[protocol.CommandMessage]
}

func newFakeCommandSource() *fakeCommandSource {
	b := events.NewBroker[protocol.CommandMessage]()
	b.Start()
	return &fakeCommandSource{broker: b}
}

func (f *fakeCommandSource) Subscribe() events.Subscriber[protocol.CommandMessage]   { return f.broker.Subscribe() }
func (f *fakeCommandSource) Unsubscribe(s events.Subscriber[protocol.CommandMessage]) { f.broker.Unsubscribe(s) }
func (f *fakeCommandSource) publish(cmd *protocol.CommandMessage)                    { f.broker.Publish(cmd) }

type fakeSupervisor struct {
	mu        sync.Mutex
	capacity  int
	spawned   []process.SpawnRequest
	killed    []string
	broker    *events.Broker[process.ProcessEvent]
}

func newFakeSupervisor(capacity int) *fakeSupervisor {
	b := events.NewBroker[process.ProcessEvent]()
	b.Start()
	return &fakeSupervisor{capacity: capacity, broker: b}
}

func (f *fakeSupervisor) AvailableCapacity() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capacity
}

func (f *fakeSupervisor) Spawn(req process.SpawnRequest) (*process.ProcessInfo, error) {
	f.mu.Lock()
	f.spawned = append(f.spawned, req)
	f.mu.Unlock()
	return &process.ProcessInfo{InstanceID: req.InstanceID}, nil
}

func (f *fakeSupervisor) Kill(instanceID string) error {
	f.mu.Lock()
	f.killed = append(f.killed, instanceID)
	f.mu.Unlock()
	return nil
}

func (f *fakeSupervisor) Subscribe() events.Subscriber[process.ProcessEvent]   { return f.broker.Subscribe() }
func (f *fakeSupervisor) Unsubscribe(s events.Subscriber[process.ProcessEvent]) { f.broker.Unsubscribe(s) }

func (f *fakeSupervisor) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawned)
}

func TestPollLoopSendsPollTaskRequestWhenUnderThreshold(t *testing.T) {
	sender := &fakeSender{}
	commands := newFakeCommandSource()
	sup := newFakeSupervisor(4)

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond
	cfg.LoadFactorThreshold = 0.8

	sched := New("agt-1", 4, cfg, sender, commands, sup)
	sched.Start()
	defer sched.Stop()

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, 10*time.Millisecond)
	msg := sender.last()
	assert.Equal(t, protocol.EventPollTaskRequest, msg.Kind)
}

func TestPollLoopSkipsWhenNoCapacity(t *testing.T) {
	sender := &fakeSender{}
	commands := newFakeCommandSource()
	sup := newFakeSupervisor(0)

	cfg := DefaultConfig()
	cfg.PollInterval = 10 * time.Millisecond

	sched := New("agt-1", 4, cfg, sender, commands, sup)
	sched.Start()
	defer sched.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.count())
}

func TestPollTaskResponseSchedulesImmediateExecution(t *testing.T) {
	sender := &fakeSender{}
	commands := newFakeCommandSource()
	sup := newFakeSupervisor(4)

	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour

	sched := New("agt-1", 4, cfg, sender, commands, sup)
	sched.Start()
	defer sched.Stop()

	cmd, err := protocol.NewCommandMessage(protocol.CommandPollTaskResponse, protocol.PollTaskResponsePayload{
		Tasks: []protocol.DispatchTaskPayload{
			{TaskID: "task-1", JobID: "job-1", Command: "/bin/echo", ScheduledAt: time.Now().Unix()},
		},
	})
	require.NoError(t, err)
	commands.publish(cmd)

	require.Eventually(t, func() bool { return sup.spawnCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestTaskControlStopKillsProcessAndEmitsCancelledUpdate(t *testing.T) {
	sender := &fakeSender{}
	commands := newFakeCommandSource()
	sup := newFakeSupervisor(4)

	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour

	sched := New("agt-1", 4, cfg, sender, commands, sup)
	sched.Start()
	defer sched.Stop()

	cmd, err := protocol.NewCommandMessage(protocol.CommandTaskControl, protocol.TaskControlPayload{
		TaskID: "task-1", ControlType: protocol.TaskControlStop, Reason: "user requested",
	})
	require.NoError(t, err)
	commands.publish(cmd)

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, 10*time.Millisecond)

	sup.mu.Lock()
	killed := append([]string{}, sup.killed...)
	sup.mu.Unlock()
	assert.Equal(t, []string{"task-1"}, killed)

	var payload protocol.TaskInstanceUpdatedPayload
	require.NoError(t, sender.last().DecodePayload(&payload))
	assert.Equal(t, "task-1", payload.TaskID)
}

func TestProcessExitedTranslatesToTaskInstanceUpdate(t *testing.T) {
	sender := &fakeSender{}
	commands := newFakeCommandSource()
	sup := newFakeSupervisor(4)

	cfg := DefaultConfig()
	cfg.PollInterval = time.Hour

	sched := New("agt-1", 4, cfg, sender, commands, sup)
	sched.Start()
	defer sched.Stop()

	exitCode := 0
	sup.broker.Publish(&process.ProcessEvent{
		Kind: process.ProcessEventExited,
		Info: process.ProcessInfo{TaskID: "task-1", Status: process.ProcessStatusSucceeded, ExitCode: &exitCode},
	})

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, 10*time.Millisecond)
	var payload protocol.TaskInstanceUpdatedPayload
	require.NoError(t, sender.last().DecodePayload(&payload))
	assert.Equal(t, "task-1", payload.TaskID)
}
