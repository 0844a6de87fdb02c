// Package mongo wraps the MongoDB driver for the telemetry pipeline.
//
// It owns the connection pool, the per-operation timeout, and the
// collection name constants. Query logic lives with the packages that
// own the data: resolver (registries), writer (snapshots and history),
// and audit (the audit trail).
package mongo
