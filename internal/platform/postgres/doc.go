// Package postgres provides PostgreSQL-backed implementations of the
// storage interfaces defined in the internal/store package: conversations
// with their messages, attachment upload state, and the task queue
// snapshot. It handles query execution and mapping between domain entities
// and database records.
package postgres
