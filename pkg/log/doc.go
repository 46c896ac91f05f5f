/*
Package log provides structured logging for meridian using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

meridian's logging system provides structured JSON logging with minimal overhead:

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
	│  │  - WithComponent("wsstrategy")               │          │
	│  │  - WithRepository("notes")                   │          │
	│  │  - WithConnectionID("conn-abc123")            │          │
	│  │  - WithEventID("evt-def456")                  │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "server",                   │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "event accepted"              │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF event accepted component=server │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all meridian packages
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
  - WithRepository: Add repository name context
  - WithConnectionID: Add WebSocket connection id context
  - WithEventID: Add event id context

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "Evaluating query: repository=tasks filters=2"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "Event accepted: repository=tasks sequence=42"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "Pong timeout, treating connection as dropped"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "Failed to apply event: repository unknown"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "Failed to bootstrap raft authority: %v"

# Usage

Initializing the Logger:

	import "github.com/meridian-sync/meridian/pkg/log"

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
	file, _ := os.OpenFile("/var/log/meridian.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("store initialized")
	log.Debug("checking connection state")
	log.Warn("reconnect scheduled")
	log.Error("failed to accept event")
	log.Fatal("cannot start without data directory") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("repository", "tasks").
		Int64("sequence", 42).
		Msg("event accepted")

	log.Logger.Error().
		Err(err).
		Str("connection_id", "conn-abc").
		Msg("websocket send failed")

Component Loggers:

	// Create component-specific logger
	serverLog := log.WithComponent("server")
	serverLog.Info().Msg("accept path completed")
	serverLog.Debug().Str("event_id", "evt-123").Msg("broadcasting event")

	// Multiple context fields
	connLog := log.WithComponent("websocket").
		With().Str("connection_id", "conn-abc").
		Str("repository", "tasks").Logger()
	connLog.Info().Msg("subscribed to repository")
	connLog.Error().Err(err).Msg("send failed")

Context Logger Helpers:

	// Repository-specific logs
	repoLog := log.WithRepository("tasks")
	repoLog.Info().Msg("schema declared")

	// Connection-specific logs
	connLog := log.WithConnectionID("conn-abc123")
	connLog.Info().Msg("authenticated")

	// Event-specific logs
	evtLog := log.WithEventID("evt-def456")
	evtLog.Info().Msg("event accepted")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/meridian-sync/meridian/pkg/log"
	)

	func main() {
		// Initialize logger
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("meridian server starting")

		// Component-specific logging
		serverLog := log.WithComponent("server")
		serverLog.Info().
			Str("repository", "tasks").
			Int("event_count", 5).
			Msg("fetched events")

		// Error logging
		err := errors.New("connection refused")
		log.Logger.Error().
			Err(err).
			Str("component", "wsstrategy").
			Msg("failed to connect to sync endpoint")

		log.Info("meridian server stopped")
	}

# Integration Points

This package integrates with:

  - pkg/server: Logs accept path, fetch path, and broadcast outcomes
  - pkg/syncclient: Logs connection state transitions and push/pull activity
  - pkg/storage: Logs schema declarations and storage-engine errors
  - pkg/repository: Logs event handoff failures

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"server","time":"2026-07-30T10:30:00Z","message":"event accepted"}
	{"level":"info","component":"wsstrategy","connection_id":"conn-abc","time":"2026-07-30T10:30:01Z","message":"authenticated"}
	{"level":"error","component":"storage","repository":"tasks","time":"2026-07-30T10:30:02Z","message":"failed to open database"}

Console Format (Development):

	2026-07-30T10:30:00Z INF event accepted component=server
	2026-07-30T10:30:01Z INF authenticated component=wsstrategy connection_id=conn-abc
	2026-07-30T10:30:02Z ERR failed to open database component=storage repository=tasks

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
  - Records the error text under its own "error" field
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Security

Log Content:
  - Never log the raw authToken or other secrets
  - Redact tokens before logging headers
  - Review logs before sharing externally

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so the error is a separate field
  - Include context (repository, connection id, event id)

Don't:
  - Log the auth token or config values that may hold secrets
  - Use Debug level in production
  - Log in tight loops (use sampling)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
