// Package domain contains the core entities of the application:
// conversations, messages, attachments and outbound tasks, together with
// their validation rules and state machines. It is independent of any
// specific storage or delivery mechanism.
package domain
