// Package schedsvc composes the Scheduler Service (C5): per-Server
// sub-loops for heartbeat, timeout sweeps, task generation, and
// leader-only rebalancing, each on its own cadence.
package schedsvc

import (
	"time"

	"github.com/cuemby/hetuflow/pkg/balancer"
	"github.com/cuemby/hetuflow/pkg/leader"
	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/taskgen"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/rs/zerolog"
)

// Service is the per-Server composition of C2-C5.
type Service struct {
	store  storage.Store
	cfg    Config
	logger zerolog.Logger

	selfID      string
	bindAddress string

	elector  *leader.Elector
	balancer *balancer.Balancer
	gen      *taskgen.Generator

	stopCh chan struct{}
}

// New creates a Service bound to selfID (this Server's stable id) and
// bindAddress (advertised in the Server row at registration).
func New(store storage.Store, selfID, bindAddress string, cfg Config) *Service {
	return &Service{
		store:       store,
		cfg:         cfg,
		logger:      log.WithComponent("schedsvc").With().Str("server_id", selfID).Logger(),
		selfID:      selfID,
		bindAddress: bindAddress,
		elector:     leader.NewElector(store, selfID, ""),
		balancer:    balancer.New(store),
		gen:         taskgen.New(store),
		stopCh:      make(chan struct{}),
	}
}

// LeaderChecker exposes the embedded Elector for metrics.Collector
// without the caller reaching into an unexported field.
func (s *Service) LeaderChecker() *leader.Elector {
	return s.elector
}

// Start registers this Server and launches every sub-loop.
func (s *Service) Start() error {
	if err := s.register(); err != nil {
		return err
	}

	s.elector.Start()
	go s.heartbeatLoop()
	go s.timeoutSweepLoop()
	go s.taskGenerationLoop()
	go s.balanceLoop()
	return nil
}

// Stop ends every sub-loop and releases leadership if held.
func (s *Service) Stop() {
	close(s.stopCh)
	s.elector.Stop()
}

// register upserts this Server's row with status Active.
func (s *Service) register() error {
	srv := &types.Server{
		ID:        s.selfID,
		Name:      s.selfID,
		Address:   s.bindAddress,
		Status:    types.ServerStatusActive,
		UpdatedAt: time.Now(),
	}
	if existing, err := s.store.GetServer(s.selfID); err == nil {
		srv.NamespaceIDs = existing.NamespaceIDs
	}
	return s.store.CreateServer(srv)
}

func (s *Service) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.heartbeat()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) heartbeat() {
	srv, err := s.store.GetServer(s.selfID)
	if err != nil {
		s.logger.Error().Err(err).Msg("heartbeat: server row missing, re-registering")
		_ = s.register()
		return
	}
	srv.Status = types.ServerStatusActive
	srv.UpdatedAt = time.Now()
	if err := s.store.UpdateServer(srv); err != nil {
		s.logger.Error().Err(err).Msg("heartbeat write failed")
	}
}

// timeoutSweepLoop runs the agent, server and task-timeout sweeps on a
// single shared ticker.
func (s *Service) timeoutSweepLoop() {
	ticker := time.NewTicker(s.cfg.TimeoutSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweepAgents()
			s.sweepServers()
			s.sweepTaskTimeouts()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Service) sweepAgents() {
	agents, err := s.store.ListAgents()
	if err != nil {
		s.logger.Error().Err(err).Msg("agent sweep: list failed")
		return
	}
	cutoff := time.Now().Add(-s.cfg.AgentOverdueTTL)
	for _, agent := range agents {
		if agent.Status == types.AgentStatusOnline && agent.LastHeartbeat.Before(cutoff) {
			agent.Status = types.AgentStatusOffline
			if err := s.store.UpdateAgent(agent); err != nil {
				s.logger.Error().Err(err).Str("agent_id", agent.ID).Msg("failed to mark agent offline")
				continue
			}
			metrics.HeartbeatTimeoutsTotal.Inc()
			s.logger.Warn().Str("agent_id", agent.ID).Msg("agent heartbeat overdue, marked offline")
		}
	}
}

func (s *Service) sweepServers() {
	servers, err := s.store.ListServers()
	if err != nil {
		s.logger.Error().Err(err).Msg("server sweep: list failed")
		return
	}
	cutoff := time.Now().Add(-s.cfg.ServerOverdueTTL)
	for _, srv := range servers {
		if srv.Status == types.ServerStatusActive && srv.UpdatedAt.Before(cutoff) {
			srv.Status = types.ServerStatusInactive
			if err := s.store.UpdateServer(srv); err != nil {
				s.logger.Error().Err(err).Str("server_id", srv.ID).Msg("failed to mark server inactive")
				continue
			}
			s.logger.Warn().Str("server_id", srv.ID).Msg("server heartbeat overdue, marked inactive")
		}
	}
}

func (s *Service) sweepTaskTimeouts() {
	running, err := s.store.ListRunningTaskInstances()
	if err != nil {
		s.logger.Error().Err(err).Msg("task timeout sweep: list failed")
		return
	}
	cutoff := time.Now().Add(-s.cfg.TaskTimeout)
	for _, inst := range running {
		if inst.StartedAt == nil || !inst.StartedAt.Before(cutoff) {
			continue
		}
		now := time.Now()
		inst.Status = types.TaskInstanceStatusTimeout
		inst.CompletedAt = &now
		inst.ErrorMessage = "task exceeded task_timeout"
		if err := s.store.UpdateTaskInstance(inst); err != nil {
			s.logger.Error().Err(err).Str("task_id", inst.TaskID).Msg("failed to mark instance timed out")
			continue
		}

		if task, err := s.store.GetTask(inst.TaskID); err == nil {
			task.Status = types.TaskStatusTimeout
			task.ErrorMessage = inst.ErrorMessage
			if err := s.store.UpdateTask(task); err != nil {
				s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to propagate timeout to task")
			}
		}
		s.logger.Warn().Str("task_id", inst.TaskID).Str("instance_id", inst.ID).Msg("task instance timed out")
	}
}

func (s *Service) taskGenerationLoop() {
	ticker := time.NewTicker(s.cfg.JobCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			if _, err := s.gen.Generate(now, now.Add(s.cfg.JobCheckWindow)); err != nil {
				s.logger.Error().Err(err).Msg("task generation cycle failed")
			}
			if _, err := s.gen.SynthesizeRetries(); err != nil {
				s.logger.Error().Err(err).Msg("retry synthesis failed")
			}
		case <-s.stopCh:
			return
		}
	}
}

// balanceLoop invokes the Load Balancer once per leader-heartbeat
// cadence, a no-op when this Server is not the leader.
func (s *Service) balanceLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !s.elector.IsLeader() {
				continue
			}
			timer := metrics.NewTimer()
			if err := s.balancer.Maybe(time.Now()); err != nil {
				s.logger.Error().Err(err).Msg("balance cycle failed")
			}
			timer.ObserveDuration(metrics.SchedulingCycleDuration)
		case <-s.stopCh:
			return
		}
	}
}
