// Package outbound implements the durable outbound task queue that
// serializes user actions (send message, upload attachment, generate image,
// generate title, execute tool call) into retryable tasks. Tasks are
// persisted on every state change so interrupted work resumes after a
// process restart, and execution is bounded by a global parallelism limit
// plus per-conversation mutual exclusion so actions within one conversation
// never interleave.
package outbound
