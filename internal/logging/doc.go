// Package logging provides structured, file-based logging with rotation for
// the recall engine. Logs are written as JSON lines to ~/.recall-engine/logs/
// via log/slog, with debug-level verbosity available for troubleshooting
// ingest and search runs.
package logging
