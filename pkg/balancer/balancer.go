// Package balancer implements the leader-only Load Balancer (C4): it
// keeps active Namespaces evenly bound to healthy Servers by rewriting
// each Server's NamespaceIDs set.
package balancer

import (
	"math"
	"sort"
	"time"

	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	defaultCoVThreshold      = 0.3
	defaultMinRebalanceEvery = 10 * time.Minute
)

// Balancer recomputes namespace-to-server bindings. It must only be
// driven while the owning Server holds the scheduler leader lock.
type Balancer struct {
	store  storage.Store
	logger zerolog.Logger

	covThreshold      float64
	minRebalanceEvery time.Duration

	lastHealthyCount int
	lastRebalance    time.Time
}

// New creates a Balancer with default thresholds (CoV 0.3, 10 minute
// minimum interval between rebalances).
func New(store storage.Store) *Balancer {
	return &Balancer{
		store:             store,
		logger:            log.WithComponent("balancer"),
		covThreshold:      defaultCoVThreshold,
		minRebalanceEvery: defaultMinRebalanceEvery,
		lastHealthyCount:  -1,
	}
}

// Maybe runs one balance cycle if its trigger conditions are met: the
// healthy server count changed, or load variance exceeds the CoV
// threshold and the minimum rebalance interval has elapsed.
func (b *Balancer) Maybe(now time.Time) error {
	servers, err := b.store.ListActiveServers()
	if err != nil {
		return err
	}
	tasks, err := b.store.ListActiveTasks()
	if err != nil {
		return err
	}

	loads := loadByServer(servers, tasks)
	countChanged := len(servers) != b.lastHealthyCount
	cov := coefficientOfVariation(loads)
	overThreshold := cov > b.covThreshold
	intervalElapsed := b.lastRebalance.IsZero() || now.Sub(b.lastRebalance) >= b.minRebalanceEvery

	if !countChanged && !(overThreshold && intervalElapsed) {
		b.lastHealthyCount = len(servers)
		return nil
	}

	namespaces, err := b.store.ListNamespaces()
	if err != nil {
		return err
	}
	active := activeNamespaces(namespaces)

	if err := b.rebalance(servers, loads, active); err != nil {
		return err
	}

	b.lastHealthyCount = len(servers)
	b.lastRebalance = now
	metrics.RebalanceCyclesTotal.Inc()
	metrics.LoadCoefficientOfVariation.Set(cov)
	return nil
}

// rebalance sorts servers by ascending load and partitions active
// namespaces into ceil(|N|/|S|)-sized groups, one group per server in
// order. It writes the full binding set per server, clearing it for
// servers left with no namespaces.
func (b *Balancer) rebalance(servers []*types.Server, loads map[string]float64, namespaces []*types.Namespace) error {
	if len(servers) == 0 {
		b.logger.Warn().Msg("no healthy servers to balance namespaces onto")
		return nil
	}

	sorted := make([]*types.Server, len(servers))
	copy(sorted, servers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return loads[sorted[i].ID] < loads[sorted[j].ID]
	})

	groupSize := int(math.Ceil(float64(len(namespaces)) / float64(len(sorted))))
	if groupSize < 1 {
		groupSize = 1
	}

	assignment := make(map[string][]string, len(sorted))
	for i, srv := range sorted {
		start := i * groupSize
		if start >= len(namespaces) {
			assignment[srv.ID] = nil
			continue
		}
		end := start + groupSize
		if end > len(namespaces) {
			end = len(namespaces)
		}
		ids := make([]string, 0, end-start)
		for _, ns := range namespaces[start:end] {
			ids = append(ids, ns.ID)
		}
		assignment[srv.ID] = ids
	}

	for _, srv := range sorted {
		srv.NamespaceIDs = assignment[srv.ID]
		if err := b.store.UpdateServer(srv); err != nil {
			b.logger.Error().Err(err).Str("server_id", srv.ID).Msg("failed to write namespace binding")
			continue
		}
		b.logger.Info().
			Str("server_id", srv.ID).
			Strs("namespace_ids", srv.NamespaceIDs).
			Msg("rebalanced namespace bindings")
	}
	return nil
}

func loadByServer(servers []*types.Server, tasks []*types.Task) map[string]float64 {
	loads := make(map[string]float64, len(servers))
	for _, srv := range servers {
		loads[srv.ID] = 0
	}
	for _, task := range tasks {
		if task.ServerID == "" {
			continue
		}
		if _, ok := loads[task.ServerID]; ok {
			loads[task.ServerID]++
		}
	}
	return loads
}

func coefficientOfVariation(loads map[string]float64) float64 {
	if len(loads) == 0 {
		return 0
	}
	var sum float64
	for _, v := range loads {
		sum += v
	}
	mean := sum / float64(len(loads))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range loads {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(loads))
	return math.Sqrt(variance) / mean
}

func activeNamespaces(namespaces []*types.Namespace) []*types.Namespace {
	active := make([]*types.Namespace, 0, len(namespaces))
	for _, ns := range namespaces {
		if ns.Status == types.NamespaceStatusEnabled {
			active = append(active, ns)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].ID < active[j].ID })
	return active
}
