// Package logging provides the structured logger used across the core.
//
// It is a thin wrapper over log/slog that applies the configured handler,
// level, and the default service/version attributes. Component packages take
// the Logger (or a narrower interface) rather than constructing their own.
package logging
