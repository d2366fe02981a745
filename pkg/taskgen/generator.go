// Package taskgen implements the Task Generator (C2): it expands every
// active Cron/Interval Schedule into concrete Task rows covering a
// rolling time window, idempotently, and synthesizes follow-up Tasks
// for retries.
package taskgen

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/hetuflow/pkg/log"
	"github.com/cuemby/hetuflow/pkg/metrics"
	"github.com/cuemby/hetuflow/pkg/storage"
	"github.com/cuemby/hetuflow/pkg/types"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	maxCronIterations = 1000
	defaultPriority   = 100
	retryBaseBackoff  = 10 * time.Second
	retryBackoffCap   = 10 * time.Minute
)

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Generator expands Schedules into Tasks.
type Generator struct {
	store  storage.Store
	logger zerolog.Logger
}

// New creates a Generator over store.
func New(store storage.Store) *Generator {
	return &Generator{store: store, logger: log.WithComponent("taskgen")}
}

// Generate expands every active Schedule over the half-open window
// [from, to), returning the ids of Tasks it actually inserted (ids
// skipped by the dedup index are not included). It never returns a
// partial-window error: per-schedule failures are logged and skipped
// so one bad Schedule does not block the rest of the window.
func (g *Generator) Generate(from, to time.Time) ([]string, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TaskGenerationDuration)

	schedules, err := g.store.ListActiveSchedules()
	if err != nil {
		return nil, err
	}

	var created []string
	for _, sched := range schedules {
		ids, err := g.expandSchedule(sched, from, to)
		if err != nil {
			g.logger.Warn().Err(err).Str("schedule_id", sched.ID).Msg("schedule expansion failed")
			continue
		}
		created = append(created, ids...)
	}
	return created, nil
}

func (g *Generator) expandSchedule(sched *types.Schedule, from, to time.Time) ([]string, error) {
	job, err := g.store.GetJob(sched.JobID)
	if err != nil {
		return nil, &InvalidSchedule{ScheduleID: sched.ID, Reason: "job not found: " + err.Error()}
	}
	if !job.Enabled {
		return nil, &InvalidSchedule{ScheduleID: sched.ID, Reason: "job disabled"}
	}

	if sched.EndTime != nil && sched.EndTime.Before(from) {
		sched.Status = types.ScheduleStatusExpired
		if err := g.store.UpdateSchedule(sched); err != nil {
			return nil, err
		}
		return nil, nil
	}

	switch sched.Kind {
	case types.ScheduleKindCron:
		return g.expandCron(sched, job, from, to)
	case types.ScheduleKindInterval:
		return g.expandInterval(sched, job, from, to)
	case types.ScheduleKindDaily:
		return g.expandDaily(sched, job, from, to)
	default:
		// Event schedules only produce Tasks via GenerateEventTask.
		return nil, nil
	}
}

func (g *Generator) expandCron(sched *types.Schedule, job *types.Job, from, to time.Time) ([]string, error) {
	expr, err := cronParser.Parse(sched.CronExpression)
	if err != nil {
		return nil, &InvalidSchedule{ScheduleID: sched.ID, Reason: "bad cron expression: " + err.Error()}
	}

	cursor := from
	if sched.StartTime != nil && sched.StartTime.After(cursor) {
		cursor = *sched.StartTime
	}

	var ids []string
	for i := 0; i < maxCronIterations; i++ {
		occurrence := expr.Next(cursor.Add(-time.Second))
		if !occurrence.Before(to) {
			return ids, nil
		}
		id, created, err := g.insertGeneratedTask(sched, job, occurrence)
		if err != nil {
			return ids, err
		}
		if created {
			ids = append(ids, id)
		}
		cursor = occurrence.Add(time.Second)
	}

	g.logger.Warn().Str("schedule_id", sched.ID).Msg("cron expansion aborted after 1000 iterations")
	return ids, nil
}

func (g *Generator) expandInterval(sched *types.Schedule, job *types.Job, from, to time.Time) ([]string, error) {
	if sched.MaxCount == 1 && sched.IntervalSecs == 0 {
		if sched.LastGeneratedAt != nil {
			return nil, nil
		}
		occurrence := from
		if sched.StartTime != nil {
			occurrence = *sched.StartTime
		}
		id, created, err := g.insertGeneratedTask(sched, job, occurrence)
		if err != nil {
			return nil, err
		}
		sched.LastGeneratedAt = &occurrence
		if err := g.store.UpdateSchedule(sched); err != nil {
			return nil, err
		}
		if created {
			return []string{id}, nil
		}
		return nil, nil
	}
	if sched.IntervalSecs <= 0 {
		return nil, &InvalidSchedule{ScheduleID: sched.ID, Reason: "interval_secs must be > 0 when max_count > 1"}
	}

	cursor := from
	if sched.StartTime != nil && sched.StartTime.After(cursor) {
		cursor = *sched.StartTime
	}
	step := time.Duration(sched.IntervalSecs) * time.Second

	var ids []string
	for i := 0; i < maxCronIterations && cursor.Before(to); i++ {
		id, created, err := g.insertGeneratedTask(sched, job, cursor)
		if err != nil {
			return ids, err
		}
		if created {
			ids = append(ids, id)
		}
		cursor = cursor.Add(step)
	}
	return ids, nil
}

// expandDaily is the Daily schedule kind: one occurrence per day at the
// wall-clock hour/minute carried in StartTime, implemented as a cron
// expression so it shares the Cron dispatch's idempotent insert path.
func (g *Generator) expandDaily(sched *types.Schedule, job *types.Job, from, to time.Time) ([]string, error) {
	hour, minute := 0, 0
	if sched.StartTime != nil {
		hour, minute = sched.StartTime.Hour(), sched.StartTime.Minute()
	}
	derived := *sched
	derived.CronExpression = cronSpecForDaily(hour, minute)
	return g.expandCron(&derived, job, from, to)
}

func cronSpecForDaily(hour, minute int) string {
	return fmt.Sprintf("0 %d %d * * *", minute, hour)
}

func (g *Generator) insertGeneratedTask(sched *types.Schedule, job *types.Job, occurrence time.Time) (string, bool, error) {
	task := &types.Task{
		ID:          uuid.Must(uuid.NewV7()).String(),
		JobID:       job.ID,
		NamespaceID: job.NamespaceID,
		ScheduleID:  sched.ID,
		Priority:    defaultPriority,
		ScheduledAt: occurrence,
		Status:      types.TaskStatusPending,
		Tags:        job.Tags,
		Environment: job.Environment,
		JobConfig:   job.Config,
		MaxRetries:  3,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	created, err := g.store.CreateTaskIfAbsent(task)
	if err != nil {
		return "", false, err
	}
	if created {
		metrics.TasksGeneratedTotal.WithLabelValues(string(sched.Kind)).Inc()
	}
	return task.ID, created, nil
}

// GenerateEventTask is the on-demand entry point for event-driven
// Tasks: inserts one Task with ScheduleID empty and ScheduledAt = now.
func (g *Generator) GenerateEventTask(jobID string, priority int) (string, error) {
	job, err := g.store.GetJob(jobID)
	if err != nil {
		return "", &InvalidSchedule{ScheduleID: "", Reason: "job not found: " + err.Error()}
	}
	if !job.Enabled {
		return "", &InvalidSchedule{ScheduleID: "", Reason: "job disabled"}
	}
	if priority == 0 {
		priority = defaultPriority
	}

	task := &types.Task{
		ID:          uuid.Must(uuid.NewV7()).String(),
		JobID:       job.ID,
		NamespaceID: job.NamespaceID,
		Priority:    priority,
		ScheduledAt: time.Now(),
		Status:      types.TaskStatusPending,
		Tags:        job.Tags,
		Environment: job.Environment,
		JobConfig:   job.Config,
		MaxRetries:  3,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if _, err := g.store.CreateTaskIfAbsent(task); err != nil {
		return "", err
	}
	metrics.TasksGeneratedTotal.WithLabelValues("event").Inc()
	return task.ID, nil
}

// SynthesizeRetries finds Tasks with Status Failed and RetryCount <
// MaxRetries and inserts a follow-up Task: a fresh id, RetryCount+1,
// ScheduledAt = now + backoff(retry_count), ServerID and AgentID reset
// so it is claimed afresh.
func (g *Generator) SynthesizeRetries() ([]string, error) {
	tasks, err := g.store.ListTasks()
	if err != nil {
		return nil, err
	}

	var created []string
	for _, t := range tasks {
		if t.Status != types.TaskStatusFailed || t.RetryCount >= t.MaxRetries {
			continue
		}

		retry := &types.Task{
			ID:          uuid.Must(uuid.NewV7()).String(),
			JobID:       t.JobID,
			NamespaceID: t.NamespaceID,
			ScheduleID:  t.ScheduleID,
			Priority:    t.Priority,
			ScheduledAt: time.Now().Add(backoff(t.RetryCount)),
			Status:      types.TaskStatusPending,
			Tags:        t.Tags,
			Environment: t.Environment,
			JobConfig:   t.JobConfig,
			RetryCount:  t.RetryCount + 1,
			MaxRetries:  t.MaxRetries,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := g.store.UpdateTask(t); err != nil {
			g.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to mark source task retried")
		}
		if _, err := g.store.CreateTaskIfAbsent(retry); err != nil {
			g.logger.Error().Err(err).Str("task_id", t.ID).Msg("failed to synthesize retry task")
			continue
		}
		created = append(created, retry.ID)
	}
	return created, nil
}

// ClaimForDispatch is the claim helper behind the poll pathway
// (dispatch.Handler.handlePoll); server_id/agent_id are stamped here, at
// poll-response time, never at balance time. dispatch.Handler.PushDispatch
// does not call it: it sends the Tasks it is given without claiming
// them. It selects Pending Tasks eligible for a Server (namespace
// bound, tag-matching if tags is non-empty), sorted by priority
// descending then scheduled_at/id ascending, and claims up to maxTasks
// of them via the optimistic-lock CAS so two Servers racing over the
// same Task never both win it.
func (g *Generator) ClaimForDispatch(serverID string, boundNamespaces []string, agentID string, maxTasks int, tags []string) ([]*types.Task, error) {
	if maxTasks <= 0 {
		return nil, nil
	}

	nsSet := make(map[string]bool, len(boundNamespaces))
	for _, id := range boundNamespaces {
		nsSet[id] = true
	}
	tagSet := make(map[string]bool, len(tags))
	for _, t := range tags {
		tagSet[t] = true
	}

	all, err := g.store.ListTasks()
	if err != nil {
		return nil, err
	}

	eligible := make([]*types.Task, 0, len(all))
	for _, t := range all {
		if t.Status != types.TaskStatusPending {
			continue
		}
		if len(nsSet) > 0 && !nsSet[t.NamespaceID] {
			continue
		}
		if len(tagSet) > 0 && !hasAnyTag(t.Tags, tagSet) {
			continue
		}
		eligible = append(eligible, t)
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].ScheduledAt.Equal(eligible[j].ScheduledAt) {
			return eligible[i].ScheduledAt.Before(eligible[j].ScheduledAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	claimed := make([]*types.Task, 0, maxTasks)
	for _, t := range eligible {
		if len(claimed) >= maxTasks {
			break
		}

		var mutated types.Task
		err := g.store.UpdateTaskCAS(t.ID, t.Revision, func(task *types.Task) {
			task.Status = types.TaskStatusDispatched
			task.ServerID = serverID
			task.AgentID = agentID
			mutated = *task
		})
		if err != nil {
			if errors.Is(err, storage.ErrRevisionMismatch) || errors.Is(err, storage.ErrNotFound) {
				continue // lost the claim race to another Server/Agent
			}
			g.logger.Warn().Err(err).Str("task_id", t.ID).Msg("claim failed")
			continue
		}
		claimed = append(claimed, &mutated)
	}
	return claimed, nil
}

func hasAnyTag(taskTags []string, wanted map[string]bool) bool {
	for _, tag := range taskTags {
		if wanted[tag] {
			return true
		}
	}
	return false
}

// backoff is a capped exponential retry delay (base * 2^retryCount),
// the curve the source leaves unspecified beyond "backoff(retry_count)".
func backoff(retryCount int) time.Duration {
	d := retryBaseBackoff
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= retryBackoffCap {
			return retryBackoffCap
		}
	}
	return d
}
