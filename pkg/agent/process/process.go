// Package process implements the Agent Process Supervisor (C8): spawns
// child processes for dispatched Tasks, enforces a concurrency cap,
// streams stdout/stderr as log events, and kills on demand.
package process

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/hetuflow/pkg/events"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/protocol"
	"github.com/rs/zerolog"
)

// ProcessStatus mirrors a TaskInstance's lifecycle as seen by the
// Supervisor, which only knows about the OS process, not storage.
type ProcessStatus string

const (
	ProcessStatusRunning   ProcessStatus = "running"
	ProcessStatusSucceeded ProcessStatus = "succeeded"
	ProcessStatusFailed    ProcessStatus = "failed"
	ProcessStatusKilled    ProcessStatus = "killed"
)

// ProcessInfo is the Supervisor's public view of one active or recently
// exited process.
type ProcessInfo struct {
	InstanceID  string
	TaskID      string
	JobID       string
	PID         int
	Status      ProcessStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	ExitCode    *int
}

// ProcessEventKind tags a ProcessEvent.
type ProcessEventKind string

const (
	ProcessEventRunning ProcessEventKind = "running"
	ProcessEventExited  ProcessEventKind = "exited"
	ProcessEventKilled  ProcessEventKind = "killed"
)

// ProcessEvent is published on the Supervisor's broker for every
// lifecycle transition of a supervised process.
type ProcessEvent struct {
	Kind ProcessEventKind
	Info ProcessInfo
}

type processItem struct {
	info   ProcessInfo
	cmd    *exec.Cmd
	cancel context.CancelFunc
}

// SpawnRequest is the shape the Agent Task Scheduler hands to Spawn.
type SpawnRequest struct {
	InstanceID  string
	TaskID      string
	JobID       string
	Command     string
	Args        []string
	WorkingDir  string
	Environment map[string]string
}

// EventSender is the Connection Runner's outbound half, used by the
// Supervisor to emit AgentLogMessage frames without importing pkg/runner.
type EventSender interface {
	Send(msg *protocol.EventMessage)
}

// Config holds the Supervisor's tunables.
type Config struct {
	MaxConcurrentProcesses int
	RunBaseDir             string
	KillGracePeriod        time.Duration
}

// DefaultConfig returns the source's literal defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentProcesses: 4,
		RunBaseDir:             filepath.Join(os.TempDir(), "hetuflow-agent", "run"),
		KillGracePeriod:        5 * time.Second,
	}
}

// Supervisor owns the set of actively supervised child processes.
type Supervisor struct {
	agentID string
	cfg     Config
	sender  EventSender
	logger  zerolog.Logger

	mu     sync.Mutex
	active map[string]*processItem

	broker *events.Broker[ProcessEvent]
}

// New constructs a Supervisor. sender may be nil in tests that don't
// care about log forwarding.
func New(agentID string, cfg Config, sender EventSender) *Supervisor {
	s := &Supervisor{
		agentID: agentID,
		cfg:     cfg,
		sender:  sender,
		logger:  log.WithComponent("process"),
		active:  make(map[string]*processItem),
		broker:  events.NewBroker[ProcessEvent](),
	}
	s.broker.Start()
	return s
}

// Subscribe returns a channel of ProcessEvents; callers must Unsubscribe.
func (s *Supervisor) Subscribe() events.Subscriber[ProcessEvent] {
	return s.broker.Subscribe()
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (s *Supervisor) Unsubscribe(sub events.Subscriber[ProcessEvent]) {
	s.broker.Unsubscribe(sub)
}

// AvailableCapacity returns max_concurrent_processes minus the number of
// currently active instances.
func (s *Supervisor) AvailableCapacity() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	avail := s.cfg.MaxConcurrentProcesses - len(s.active)
	if avail < 0 {
		return 0
	}
	return avail
}

// ActiveCount returns the number of currently active instances.
func (s *Supervisor) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Spawn starts req as a child process. It returns CapacityExceeded if
// the concurrency cap is reached, AlreadyRunning if the instance id is
// already active, or SpawnFailed if the OS refused to start the process.
func (s *Supervisor) Spawn(req SpawnRequest) (*ProcessInfo, error) {
	s.mu.Lock()
	if len(s.active) >= s.cfg.MaxConcurrentProcesses {
		s.mu.Unlock()
		return nil, &CapacityExceeded{Active: len(s.active), Max: s.cfg.MaxConcurrentProcesses}
	}
	if _, exists := s.active[req.InstanceID]; exists {
		s.mu.Unlock()
		return nil, &AlreadyRunning{InstanceID: req.InstanceID}
	}
	// Reserve the slot before doing any expensive work, in the same
	// critical section as the capacity check, so two concurrent Spawn
	// calls can never both pass the check for the last free slot.
	s.active[req.InstanceID] = &processItem{info: ProcessInfo{
		InstanceID: req.InstanceID,
		TaskID:     req.TaskID,
		JobID:      req.JobID,
		Status:     ProcessStatusRunning,
	}}
	s.mu.Unlock()

	abort := func(err error) (*ProcessInfo, error) {
		s.mu.Lock()
		delete(s.active, req.InstanceID)
		s.mu.Unlock()
		return nil, err
	}

	workDir := filepath.Join(s.cfg.RunBaseDir, req.JobID, req.TaskID)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return abort(&SpawnFailed{InstanceID: req.InstanceID, Cause: err})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, req.Command, req.Args...)
	cmd.Dir = workDir
	cmd.Env = envSlice(req.Environment)
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return abort(&SpawnFailed{InstanceID: req.InstanceID, Cause: err})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return abort(&SpawnFailed{InstanceID: req.InstanceID, Cause: err})
	}

	s.logger.Info().Str("instance_id", req.InstanceID).Str("cmd", req.Command).Msg("spawning process")

	if err := cmd.Start(); err != nil {
		cancel()
		return abort(&SpawnFailed{InstanceID: req.InstanceID, Cause: err})
	}

	info := ProcessInfo{
		InstanceID: req.InstanceID,
		TaskID:     req.TaskID,
		JobID:      req.JobID,
		PID:        cmd.Process.Pid,
		Status:     ProcessStatusRunning,
		StartedAt:  time.Now(),
	}

	item := &processItem{info: info, cmd: cmd, cancel: cancel}
	s.mu.Lock()
	s.active[req.InstanceID] = item
	s.mu.Unlock()

	metrics.ProcessesActive.Set(float64(s.ActiveCount()))
	metrics.ProcessesSpawnedTotal.Inc()
	s.broker.Publish(&ProcessEvent{Kind: ProcessEventRunning, Info: info})

	go s.forwardLines(req.InstanceID, req.TaskID, "stdout", stdout)
	go s.forwardLines(req.InstanceID, req.TaskID, "stderr", stderr)
	go s.wait(req.InstanceID, cmd)

	return &info, nil
}

func (s *Supervisor) wait(instanceID string, cmd *exec.Cmd) {
	err := cmd.Wait()

	s.mu.Lock()
	item, ok := s.active[instanceID]
	if ok {
		delete(s.active, instanceID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	exitCode := -1
	status := ProcessStatusFailed
	// A non-zero exit surfaces as *exec.ExitError; ExitCode reports -1
	// when the process was terminated by a signal.
	if _, exited := err.(*exec.ExitError); err == nil || exited {
		exitCode = cmd.ProcessState.ExitCode()
		if exitCode == 0 {
			status = ProcessStatusSucceeded
		}
	} else {
		s.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("process wait returned error")
	}

	now := time.Now()
	item.info.Status = status
	item.info.ExitCode = &exitCode
	item.info.CompletedAt = &now

	metrics.ProcessesActive.Set(float64(s.ActiveCount()))
	metrics.ProcessesExitedTotal.WithLabelValues(string(status)).Inc()
	s.logger.Info().Str("instance_id", instanceID).Int("exit_code", exitCode).Msg("process exited")
	s.broker.Publish(&ProcessEvent{Kind: ProcessEventExited, Info: item.info})
}

func (s *Supervisor) forwardLines(instanceID, taskID, stream string, pipe io.Reader) {
	var seq uint64
	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		n := atomic.AddUint64(&seq, 1)
		if s.sender == nil {
			continue
		}
		msg, err := protocol.NewEventMessage(protocol.EventAgentLogMessage, s.agentID, protocol.AgentLogMessagePayload{
			TaskID: taskID, InstanceID: instanceID, Stream: stream, Sequence: n, Line: line, Timestamp: time.Now().Unix(),
		})
		if err != nil {
			continue
		}
		s.sender.Send(msg)
	}
}

// Kill terminates instanceID's process: TERM, then KILL after
// KillGracePeriod if it hasn't exited.
func (s *Supervisor) Kill(instanceID string) error {
	s.mu.Lock()
	item, ok := s.active[instanceID]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	killProcessGroup(item.cmd)

	select {
	case <-waitDone(item.cmd):
	case <-time.After(s.cfg.KillGracePeriod):
		item.cancel()
	}

	s.mu.Lock()
	_, stillActive := s.active[instanceID]
	s.mu.Unlock()
	if stillActive {
		s.broker.Publish(&ProcessEvent{Kind: ProcessEventKilled, Info: item.info})
	}
	return nil
}

func waitDone(cmd *exec.Cmd) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		for cmd.ProcessState == nil {
			time.Sleep(50 * time.Millisecond)
		}
		close(done)
	}()
	return done
}

// KillAll terminates every active process concurrently and waits for
// all of them to finish. Used at Agent shutdown.
func (s *Supervisor) KillAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(instanceID string) {
			defer wg.Done()
			if err := s.Kill(instanceID); err != nil {
				s.logger.Warn().Err(err).Str("instance_id", instanceID).Msg("kill_all_processes: kill failed")
			}
		}(id)
	}
	wg.Wait()
}

func envSlice(env map[string]string) []string {
	out := os.Environ()
	for k, v := range env {
		out = append(out, fmt.Sprintf("%s=%s", k, v))
	}
	return out
}
