package schedsvc

import (
	"testing"
	"time"

	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRegisterUpsertsActiveServer(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, "srv-1", "10.0.0.1:7000", DefaultConfig())

	require.NoError(t, svc.register())

	srv, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.Equal(t, types.ServerStatusActive, srv.Status)
	assert.Equal(t, "10.0.0.1:7000", srv.Address)
}

func TestHeartbeatRefreshesUpdatedAt(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, "srv-1", "addr", DefaultConfig())
	require.NoError(t, svc.register())

	srv, _ := store.GetServer("srv-1")
	stale := srv.UpdatedAt.Add(-time.Hour)
	srv.UpdatedAt = stale
	require.NoError(t, store.UpdateServer(srv))

	svc.heartbeat()

	refreshed, err := store.GetServer("srv-1")
	require.NoError(t, err)
	assert.True(t, refreshed.UpdatedAt.After(stale))
}

func TestSweepAgentsMarksOverdueOffline(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.AgentOverdueTTL = time.Minute
	svc := New(store, "srv-1", "addr", cfg)

	require.NoError(t, store.CreateAgent(&types.Agent{
		ID: "agt-1", Status: types.AgentStatusOnline,
		LastHeartbeat: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.CreateAgent(&types.Agent{
		ID: "agt-2", Status: types.AgentStatusOnline,
		LastHeartbeat: time.Now(),
	}))

	svc.sweepAgents()

	overdue, err := store.GetAgent("agt-1")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOffline, overdue.Status)

	fresh, err := store.GetAgent("agt-2")
	require.NoError(t, err)
	assert.Equal(t, types.AgentStatusOnline, fresh.Status)
}

func TestSweepTaskTimeoutsMarksInstanceAndTask(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.TaskTimeout = time.Minute
	svc := New(store, "srv-1", "addr", cfg)

	started := time.Now().Add(-time.Hour)
	_, err := store.CreateTaskIfAbsent(&types.Task{ID: "task-1", JobID: "job-1", Status: types.TaskStatusRunning, ScheduledAt: started})
	require.NoError(t, err)
	require.NoError(t, store.CreateTaskInstance(&types.TaskInstance{
		ID: "inst-1", TaskID: "task-1", Status: types.TaskInstanceStatusRunning, StartedAt: &started,
	}))

	svc.sweepTaskTimeouts()

	inst, err := store.GetTaskInstance("inst-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskInstanceStatusTimeout, inst.Status)
	assert.NotNil(t, inst.CompletedAt)

	task, err := store.GetTask("task-1")
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusTimeout, task.Status)
}
