package metrics

import (
	"time"

	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/types"
)

// LeaderChecker is the minimal view of the Leader Elector the collector
// needs; satisfied by *leader.Elector without importing that package
// (which would otherwise create an import cycle, since pkg/leader
// imports this package to record election attempts).
type LeaderChecker interface {
	IsLeader() bool
}

// Collector periodically samples storage.Store and publishes gauge
// metrics describing server counts, agent counts, and leader status.
type Collector struct {
	store  storage.Store
	leader LeaderChecker
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector.
func NewCollector(store storage.Store, leader LeaderChecker) *Collector {
	return &Collector{
		store:  store,
		leader: leader,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectServerMetrics()
	c.collectAgentMetrics()
	c.collectLeaderMetrics()
}

func (c *Collector) collectServerMetrics() {
	servers, err := c.store.ListServers()
	if err != nil {
		return
	}

	counts := make(map[types.ServerStatus]int)
	for _, srv := range servers {
		counts[srv.Status]++
	}
	for status, count := range counts {
		ServersTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectAgentMetrics() {
	agents, err := c.store.ListAgents()
	if err != nil {
		return
	}

	counts := make(map[types.AgentStatus]int)
	for _, agent := range agents {
		counts[agent.Status]++
	}
	for status, count := range counts {
		AgentsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}

func (c *Collector) collectLeaderMetrics() {
	if c.leader == nil {
		return
	}
	if c.leader.IsLeader() {
		LeaderStatus.Set(1)
	} else {
		LeaderStatus.Set(0)
	}
}
