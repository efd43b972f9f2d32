// Package logger configures structured logging for the application.
//
// It builds on the standard library's log/slog package, emitting JSON
// records with a configurable minimum level, and carries request-scoped
// loggers through context.
package logger
