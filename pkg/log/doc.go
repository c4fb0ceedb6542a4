/*
Package log provides structured logging for s3repo using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers carry context through a subsystem:

	pruneLog := log.WithComponent("maintainer")
	pruneLog.Info().Int64("file_id", f.FileID).Msg("unlinked stale file")

Maintenance loops log per-file failures with .Err(err) and continue; other
failures are returned as errors to the caller.
*/
package log
