// Package events provides types and interfaces for task status notifications.
//
// The task queue emits a TaskStatusEvent for every status transition without
// knowing which handlers will process it. Handlers subscribe through an
// EventEmitter, keeping observers loosely coupled from the queue itself.
//
// The primary components are:
// - TaskStatusEvent: Describes one status transition of an outbound task
// - EventHandler: Interface for components that can handle events
// - EventEmitter: Interface for components that can emit events
package events
