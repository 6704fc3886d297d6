/*
Package log provides structured logging for the Fachdienst server using
zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and a handful of
helper functions for common logging patterns. All logs carry timestamps and
support filtering by severity for production debugging.

# Usage

Initializing the global logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

Component-scoped loggers:

	logger := log.WithComponent("vau")
	logger.Info().Str("pseudonym", pseudonym).Msg("decrypted request")

Task- and patient-scoped loggers:

	logger := log.WithTask(task.Id)
	logger.Info().Str("operation", "activate").Msg("task transitioned")

# Design notes

Console output (cfg.JSONOutput == false) is meant for local development;
production deployments should always set JSONOutput so log lines are
machine-parseable. WithPatient logs the raw KVNR — callers in
request-handling paths should prefer WithTask wherever a task id is already
available, since the KVNR is personal data and task ids are not.
*/
package log
