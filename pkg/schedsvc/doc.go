/*
Package schedsvc composes the per-Server Scheduler Service (C5): four
independent sub-loops, each on its own cadence, sharing one
storage.Store.

# Sub-loops

  - Heartbeat (30s): writes this Server's row with Status Active and a
    fresh UpdatedAt.
  - Timeout sweep (60s, single shared ticker): marks Agents
    offline past AgentOverdueTTL, Servers inactive past
    ServerOverdueTTL, and Task Instances still Running past TaskTimeout
    as Timeout, propagating the terminal status to their Task.
  - Task generation (configurable, default 30s over a 10 minute
    window): drives pkg/taskgen.Generate then SynthesizeRetries.
  - Balance (tied to the leader heartbeat cadence): invokes
    pkg/balancer only when pkg/leader reports this Server as leader.

# Usage

	svc := schedsvc.New(store, selfServerID, bindAddr, schedsvc.DefaultConfig())
	if err := svc.Start(); err != nil {
		log.Fatal(err.Error())
	}
	defer svc.Stop()

	collector := metrics.NewCollector(store, svc.LeaderChecker())
	collector.Start()

# Integration Points

  - pkg/leader: owns the leader lock lifecycle; gates the balance loop.
  - pkg/balancer: leader-only namespace rebalancing.
  - pkg/taskgen: Cron/Interval expansion and retry synthesis.
  - pkg/storage: Server/Agent/Task/TaskInstance reads and writes.
  - pkg/metrics: SchedulingCycleDuration, HeartbeatTimeoutsTotal.
*/
package schedsvc
