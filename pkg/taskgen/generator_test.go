package taskgen

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

func seedJob(t *testing.T, store storage.Store, id string, enabled bool) {
	t.Helper()
	require.NoError(t, store.CreateJob(&types.Job{
		ID: id, Name: id, Enabled: enabled,
		Config: types.JobConfig{Command: "echo", Args: []string{"hi"}},
	}))
}

func TestGenerateCronExpansionIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-echo", true)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sched-1", JobID: "job-echo", Kind: types.ScheduleKindCron,
		CronExpression: "*/10 * * * * *", Status: types.ScheduleStatusActive,
		StartTime: &start,
	}))

	gen := New(store)
	from := start
	to := start.Add(30 * time.Second)

	first, err := gen.Generate(from, to)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := gen.Generate(from, to)
	require.NoError(t, err)
	assert.Empty(t, second, "re-running over the same window must insert nothing new")

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	seen := map[time.Time]bool{}
	for _, task := range tasks {
		assert.Equal(t, types.TaskStatusPending, task.Status)
		assert.False(t, seen[task.ScheduledAt], "duplicate scheduled_at %v", task.ScheduledAt)
		seen[task.ScheduledAt] = true
	}
}

func TestGenerateSkipsDisabledJob(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-off", false)

	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sched-1", JobID: "job-off", Kind: types.ScheduleKindCron,
		CronExpression: "* * * * * *", Status: types.ScheduleStatusActive,
	}))

	gen := New(store)
	ids, err := gen.Generate(time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGenerateExpiresScheduleWhenEndTimePassed(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-echo", true)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sched-1", JobID: "job-echo", Kind: types.ScheduleKindCron,
		CronExpression: "* * * * * *", Status: types.ScheduleStatusActive,
		EndTime: &past,
	}))

	gen := New(store)
	_, err := gen.Generate(time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)

	sched, err := store.GetSchedule("sched-1")
	require.NoError(t, err)
	assert.Equal(t, types.ScheduleStatusExpired, sched.Status)
}

func TestGenerateIntervalSingleShot(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-echo", true)

	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sched-1", JobID: "job-echo", Kind: types.ScheduleKindInterval,
		MaxCount: 1, IntervalSecs: 0, Status: types.ScheduleStatusActive,
	}))

	gen := New(store)
	ids, err := gen.Generate(time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	ids2, err := gen.Generate(time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids2)
}

func TestGenerateIntervalRejectsZeroIntervalWithMultipleOccurrences(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-echo", true)

	require.NoError(t, store.CreateSchedule(&types.Schedule{
		ID: "sched-1", JobID: "job-echo", Kind: types.ScheduleKindInterval,
		MaxCount: 5, IntervalSecs: 0, Status: types.ScheduleStatusActive,
	}))

	gen := New(store)
	ids, err := gen.Generate(time.Now(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, ids, "per-schedule InvalidSchedule errors are logged and skipped, not surfaced as a Generate error")
}

func TestGenerateEventTaskBypassesDedup(t *testing.T) {
	store := newTestStore(t)
	seedJob(t, store, "job-echo", true)

	gen := New(store)
	id1, err := gen.GenerateEventTask("job-echo", 0)
	require.NoError(t, err)
	id2, err := gen.GenerateEventTask("job-echo", 0)
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)

	tasks, err := store.ListTasks()
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	for _, task := range tasks {
		assert.Equal(t, defaultPriority, task.Priority)
		assert.Empty(t, task.ScheduleID)
	}
}

func TestSynthesizeRetriesInsertsFollowUpWithResetOwnership(t *testing.T) {
	store := newTestStore(t)

	failed := &types.Task{
		ID: "task-1", JobID: "job-echo", NamespaceID: "ns1",
		ServerID: "srv-a", AgentID: "agt-a", Status: types.TaskStatusFailed,
		RetryCount: 0, MaxRetries: 3, ScheduledAt: time.Now(),
	}
	_, err := store.CreateTaskIfAbsent(failed)
	require.NoError(t, err)

	gen := New(store)
	ids, err := gen.SynthesizeRetries()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	retry, err := store.GetTask(ids[0])
	require.NoError(t, err)
	assert.Equal(t, 1, retry.RetryCount)
	assert.Empty(t, retry.ServerID)
	assert.Empty(t, retry.AgentID)
	assert.Equal(t, types.TaskStatusPending, retry.Status)
	assert.True(t, retry.ScheduledAt.After(time.Now()))
}

func TestSynthesizeRetriesSkipsExhaustedTasks(t *testing.T) {
	store := newTestStore(t)

	exhausted := &types.Task{
		ID: "task-1", JobID: "job-echo", Status: types.TaskStatusFailed,
		RetryCount: 3, MaxRetries: 3, ScheduledAt: time.Now(),
	}
	_, err := store.CreateTaskIfAbsent(exhausted)
	require.NoError(t, err)

	gen := New(store)
	ids, err := gen.SynthesizeRetries()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestClaimForDispatchOrdersByPriorityThenScheduledAt(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	low := &types.Task{ID: "task-low", NamespaceID: "ns1", Priority: 10, ScheduledAt: now, Status: types.TaskStatusPending}
	high := &types.Task{ID: "task-high", NamespaceID: "ns1", Priority: 100, ScheduledAt: now.Add(time.Second), Status: types.TaskStatusPending}
	_, err := store.CreateTaskIfAbsent(low)
	require.NoError(t, err)
	_, err = store.CreateTaskIfAbsent(high)
	require.NoError(t, err)

	gen := New(store)
	claimed, err := gen.ClaimForDispatch("srv-1", []string{"ns1"}, "agt-1", 10, nil)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, "task-high", claimed[0].ID, "higher priority must be claimed first regardless of scheduled_at")
	assert.Equal(t, "task-low", claimed[1].ID)

	for _, task := range claimed {
		assert.Equal(t, "srv-1", task.ServerID)
		assert.Equal(t, "agt-1", task.AgentID)
		assert.Equal(t, types.TaskStatusDispatched, task.Status)
	}
}

func TestClaimForDispatchRespectsNamespaceAndTagFilters(t *testing.T) {
	store := newTestStore(t)

	inNS := &types.Task{ID: "task-in-ns", NamespaceID: "ns1", Status: types.TaskStatusPending, ScheduledAt: time.Now()}
	outNS := &types.Task{ID: "task-out-ns", NamespaceID: "ns2", Status: types.TaskStatusPending, ScheduledAt: time.Now()}
	tagged := &types.Task{ID: "task-tagged", NamespaceID: "ns1", Tags: []string{"gpu"}, Status: types.TaskStatusPending, ScheduledAt: time.Now()}
	untagged := &types.Task{ID: "task-untagged", NamespaceID: "ns1", Status: types.TaskStatusPending, ScheduledAt: time.Now()}
	for _, tk := range []*types.Task{inNS, outNS, tagged, untagged} {
		_, err := store.CreateTaskIfAbsent(tk)
		require.NoError(t, err)
	}

	gen := New(store)
	claimed, err := gen.ClaimForDispatch("srv-1", []string{"ns1"}, "agt-1", 10, []string{"gpu"})
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "task-tagged", claimed[0].ID)
}

func TestClaimForDispatchSkipsAlreadyDispatchedTasks(t *testing.T) {
	store := newTestStore(t)

	dispatched := &types.Task{ID: "task-1", NamespaceID: "ns1", Status: types.TaskStatusDispatched, ScheduledAt: time.Now()}
	_, err := store.CreateTaskIfAbsent(dispatched)
	require.NoError(t, err)

	gen := New(store)
	claimed, err := gen.ClaimForDispatch("srv-1", []string{"ns1"}, "agt-1", 10, nil)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestClaimForDispatchHonorsMaxTasks(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 5; i++ {
		task := &types.Task{ID: uuidForTest(i), NamespaceID: "ns1", Status: types.TaskStatusPending, ScheduledAt: time.Now()}
		_, err := store.CreateTaskIfAbsent(task)
		require.NoError(t, err)
	}

	gen := New(store)
	claimed, err := gen.ClaimForDispatch("srv-1", []string{"ns1"}, "agt-1", 2, nil)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func uuidForTest(i int) string {
	return "task-" + string(rune('a'+i))
}

func TestBackoffIsCappedExponential(t *testing.T) {
	assert.Equal(t, retryBaseBackoff, backoff(0))
	assert.Equal(t, retryBaseBackoff*2, backoff(1))
	assert.Equal(t, retryBackoffCap, backoff(20))
}
