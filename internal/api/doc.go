// Package api exposes the monitoring surface: health, pipeline
// counters, the recent-event buffer, and the WebSocket event stream.
package api
