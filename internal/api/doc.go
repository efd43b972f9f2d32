// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It exposes the task queue's enqueue, cancel and
// retry operations plus read access to conversations and attachment upload
// state, translating HTTP concerns to the internal services.
package api
