// Package store defines the persistence interfaces the application depends
// on: conversation and message storage, attachment upload state, and the
// task queue snapshot. Keeping these as interfaces lets the queue and
// services stay independent of the concrete database.
package store
