/*
Package log provides structured logging for Hetuflow using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("taskgen")                 │          │
	│  │  - WithServerID("srv-abc123")               │          │
	│  │  - WithAgentID("agt-xyz789")                │          │
	│  │  - WithTaskID("task-def456")                │          │
	│  │  - WithScheduleID("sched-ghi012")            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "taskgen",                  │          │
	│  │    "time": "2026-07-31T10:30:00Z",          │          │
	│  │    "message": "task generated"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-31T10:30:00Z INF task generated component=taskgen │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Hetuflow packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithServerID: Add server id context
  - WithAgentID: Add agent id context
  - WithTaskID: Add task id context
  - WithScheduleID: Add schedule id context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating cron expression for schedule sched-abc123"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Task dispatched to agent agt-xyz (namespace=default)"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Agent heartbeat overdue (1 occurrence)"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to claim task: revision conflict"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to open BoltDB store: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/hetuflow/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/hetuflow.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("hetuflow-server started")
	log.Debug("Checking pending task queue")
	log.Warn("High task backlog detected")
	log.Error("Failed to connect to agent")
	log.Fatal("Cannot start without store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("task_id", "task-123").
		Int("retry_count", 2).
		Msg("Task retried")

	log.Logger.Error().
		Err(err).
		Str("agent_id", "agt-abc").
		Msg("Agent dispatch failed")

Component Loggers:

	// Create component-specific logger
	taskgenLog := log.WithComponent("taskgen")
	taskgenLog.Info().Msg("Starting generation sweep")
	taskgenLog.Debug().Str("schedule_id", "sched-123").Msg("Evaluating schedule")

	// Multiple context fields
	taskLog := log.WithComponent("dispatch").
		With().Str("agent_id", "agt-abc").
		Str("task_id", "task-123").Logger()
	taskLog.Info().Msg("Dispatching task")
	taskLog.Error().Err(err).Msg("Dispatch failed")

Context Logger Helpers:

	// Server-specific logs
	serverLog := log.WithServerID("srv-abc123")
	serverLog.Info().Msg("Server elected leader")

	// Agent-specific logs
	agentLog := log.WithAgentID("agt-xyz789")
	agentLog.Info().Msg("Agent connected")

	// Task-specific logs
	taskLog := log.WithTaskID("task-def456")
	taskLog.Info().Msg("Task started")

	// Schedule-specific logs
	scheduleLog := log.WithScheduleID("sched-ghi012")
	scheduleLog.Info().Msg("Schedule expanded")

Complete Example:

	package main

	import (
		"errors"
		"os"

		"github.com/cuemby/hetuflow/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("hetuflow-server starting")

		taskgenLog := log.WithComponent("taskgen")
		taskgenLog.Info().
			Int("tasks_created", 5).
			Msg("Generation sweep complete")

		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "gateway").
			Msg("Failed to accept agent connection")

		log.Info("hetuflow-server stopped")
	}

# Integration Points

This package integrates with:

  - pkg/taskgen: Logs generation sweeps and retry synthesis
  - pkg/leader: Logs lock acquisition and leadership transitions
  - pkg/balancer: Logs namespace rebalancing decisions
  - pkg/schedsvc: Logs service lifecycle
  - pkg/gateway: Logs agent connect/disconnect and frame errors
  - pkg/dispatch: Logs task claim and dispatch outcomes
  - pkg/agent/runner: Logs connection state transitions
  - pkg/agent/process: Logs process spawn/exit

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"taskgen","time":"2026-07-31T10:30:00Z","message":"generation sweep complete"}
	{"level":"info","component":"dispatch","task_id":"task-123","time":"2026-07-31T10:30:01Z","message":"task dispatched"}
	{"level":"error","component":"agent","agent_id":"agt-abc","error":"connection refused","time":"2026-07-31T10:30:02Z","message":"heartbeat failed"}

Console Format (Development):

	2026-07-31T10:30:00Z INF generation sweep complete component=taskgen
	2026-07-31T10:30:01Z INF task dispatched component=dispatch task_id=task-123
	2026-07-31T10:30:02Z ERR heartbeat failed component=agent agent_id=agt-abc error="connection refused"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Records the error message under the "error" field (no stack trace
    is attached; Init configures no stack marshaler)
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so they land in the "error" field
  - Include context (server id, agent id, task id)

Don't:
  - Log sensitive data (tokens, credentials)
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)
  - Block on log writes (use buffered output)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
