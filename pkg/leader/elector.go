// Package leader implements the single-row, optimistic-lock leader
// election described for the Scheduler Service: at most one Server at
// a time holds the named lock row and may run the Load Balancer.
package leader

import (
	"sync/atomic"
	"time"

	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/rs/zerolog"
)

const (
	lockTTL      = 45 * time.Second
	electCadence = 30 * time.Second
	maxAttempts  = 5
)

// Elector periodically claims the scheduler leader lock. Only the
// Server holding the lock is permitted to run the Load Balancer (C4).
type Elector struct {
	store    storage.Store
	selfID   string
	lockName string
	logger   zerolog.Logger

	isLeader atomic.Bool
	stopCh   chan struct{}
}

// NewElector creates a new Elector for the given Server id. lockName is
// normally types.SchedServerLeaderLock; a caller-supplied name is
// accepted to keep the package testable with isolated locks.
func NewElector(store storage.Store, selfID, lockName string) *Elector {
	if lockName == "" {
		lockName = types.SchedServerLeaderLock
	}
	return &Elector{
		store:    store,
		selfID:   selfID,
		lockName: lockName,
		logger:   log.WithComponent("leader").With().Str("server_id", selfID).Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the election loop on its own goroutine.
func (e *Elector) Start() {
	go e.run()
}

// Stop ends the election loop and releases the lock if held.
func (e *Elector) Stop() {
	close(e.stopCh)
	if e.IsLeader() {
		_ = e.store.ReleaseLock(e.lockName, e.selfID)
	}
}

// IsLeader reports whether this Elector currently holds the lock.
// Satisfies metrics.LeaderChecker.
func (e *Elector) IsLeader() bool {
	return e.isLeader.Load()
}

func (e *Elector) run() {
	e.attempt()

	ticker := time.NewTicker(electCadence)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.attempt()
		case <-e.stopCh:
			return
		}
	}
}

// attempt runs up to maxAttempts CAS tries to acquire or renew the
// lock, then gives up and lets the caller retry on the next cycle.
func (e *Elector) attempt() {
	for i := 0; i < maxAttempts; i++ {
		acquired, lock, err := e.store.AcquireOrRenewLock(e.lockName, e.selfID, lockTTL, time.Now())
		if err != nil {
			e.logger.Error().Err(err).Msg("lock acquisition failed")
			metrics.LeaderElectionAttemptsTotal.WithLabelValues("error").Inc()
			return
		}

		if acquired {
			if !e.isLeader.Load() {
				e.logger.Info().Int64("revision", lock.Revision).Msg("acquired scheduler leader lock")
				metrics.LeaderElectionAttemptsTotal.WithLabelValues("acquired").Inc()
			} else {
				metrics.LeaderElectionAttemptsTotal.WithLabelValues("renewed").Inc()
			}
			e.isLeader.Store(true)
			return
		}

		if e.isLeader.Load() {
			e.logger.Warn().Str("holder", lock.Holder).Msg("lost scheduler leader lock")
			metrics.LeaderElectionAttemptsTotal.WithLabelValues("lost").Inc()
		}
		e.isLeader.Store(false)

		// Another server holds a live lock; no point retrying this cycle.
		if lock.ExpireAt.After(time.Now()) {
			return
		}
	}
}
