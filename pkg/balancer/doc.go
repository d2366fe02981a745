/*
Package balancer implements the leader-only Load Balancer (C4): it
keeps the set of active Namespaces evenly bound across healthy
Servers by rewriting each Server.NamespaceIDs, never a Task's
ServerID directly: in-flight Tasks finish where they started; only
future dispatch/poll decisions see the new binding.

# Trigger conditions

Maybe() recomputes bindings only when:

  - the count of healthy servers changed since the last cycle, or
  - the load scores' coefficient of variation exceeds 0.3 and at least
    10 minutes have elapsed since the last rebalance.

Load score per server is its active task count (unit weight, matching
the source's `active_tasks * 1.0`).

# Algorithm

Servers are sorted by ascending load; active namespaces are partitioned
into ceil(|N|/|S|)-sized groups, one group per server in sorted order.
Servers that run out of namespaces get an explicit empty binding set.

# Usage

	bal := balancer.New(store)
	if elector.IsLeader() {
		bal.Maybe(time.Now())
	}

# Integration Points

  - pkg/storage: ListActiveServers/ListActiveTasks/ListNamespaces/UpdateServer.
  - pkg/leader: gates invocation on IsLeader().
  - pkg/metrics: RebalanceCyclesTotal, LoadCoefficientOfVariation.
*/
package balancer
