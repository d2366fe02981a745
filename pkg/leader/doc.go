/*
Package leader implements the Scheduler Service's leader election: a
single named row in storage.Store (id types.SchedServerLeaderLock)
whose Revision is the sole source of mutual exclusion among Servers.

There is no consensus protocol and no log replication: every Server
attempts the same optimistic compare-and-swap against the lock row on
a fixed cadence, and whichever write lands first (as serialized by the
store's single-writer transaction) wins until its lease expires.

# Protocol

Every 30s, an Elector:

 1. Attempts AcquireOrRenewLock, which succeeds if the row is absent,
    expired, or already held by this Elector.
 2. On success, declares itself leader and is eligible to run the Load
    Balancer (pkg/balancer) this cycle.
 3. On failure, retries up to 5 times within the same tick only if the
    current holder's lease looks stale; otherwise it backs off to the
    next cycle.

# Usage

	elector := leader.NewElector(store, selfServerID, "")
	elector.Start()
	defer elector.Stop()

	bal := balancer.New(store)
	if elector.IsLeader() {
		_ = bal.Maybe(time.Now())
	}

# Integration Points

  - pkg/storage: AcquireOrRenewLock/ReleaseLock/GetLock implement the CAS.
  - pkg/metrics: LeaderChecker lets the collector sample IsLeader() without
    an import cycle back into this package.
  - pkg/schedsvc: gates the Load Balancer sub-loop on IsLeader().
*/
package leader
