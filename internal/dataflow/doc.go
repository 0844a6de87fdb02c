// Package dataflow carries the step-by-step processing event stream.
//
// Every reading leaves a trail: received, parsed, resolved, written,
// or rejected. Events fan out to an in-memory ring buffer, an external
// HTTP collector, WebSocket subscribers, and an optional metrics sink.
// The stream is observability, not data: dropping an event under
// pressure is acceptable, delaying a reading is not.
package dataflow
