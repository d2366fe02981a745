/*
Package taskgen implements the Task Generator (C2): it turns every
active Schedule into Task rows covering a rolling window exactly once,
idempotently, and synthesizes retry Tasks for failures still within
budget.

# Algorithm

Generate(from, to) loads active Schedules, and for each:

  - Loads the associated Job; skips (logging) if missing or disabled.
  - If EndTime has already passed from, flips the Schedule to Expired
    and skips it.
  - Dispatches on ScheduleKind:
  - Cron: walks robfig/cron occurrences from max(from, StartTime)
    until the next occurrence would land at or past to, inserting one
    Task per occurrence via storage.Store.CreateTaskIfAbsent. Bails
    out after 1000 iterations to guard against pathological
    expressions.
  - Interval: steps by IntervalSecs from the same starting point;
    MaxCount=1 with IntervalSecs=0 emits a single Task.
  - Daily: reduced to a derived cron expression ("0 M H * * *") built
    from StartTime's wall-clock hour/minute, reusing the Cron path.

CreateTaskIfAbsent's secondary index on (ScheduleID, ScheduledAt) is
what makes repeated Generate calls over overlapping windows produce no
duplicate rows — the property exercised by TestGenerateCronExpansionIsIdempotent.

GenerateEventTask is the separate on-demand path for event-driven
Tasks: one Task with ScheduleID empty and ScheduledAt = now.

SynthesizeRetries scans for Failed Tasks with retries remaining and
inserts a follow-up Task with RetryCount+1 and ScheduledAt = now +
backoff(retryCount); per the resolved Open Question, the new Task
starts with ServerID/AgentID unset so dispatch/poll claims it afresh.

# Integration Points

  - pkg/storage: Schedule/Job reads, CreateTaskIfAbsent, UpdateSchedule.
  - pkg/schedsvc: drives Generate on a fixed cadence over a fixed window,
    then calls SynthesizeRetries.
  - pkg/metrics: TasksGeneratedTotal, TaskGenerationDuration.
*/
package taskgen
