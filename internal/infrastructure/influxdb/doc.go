// Package influxdb provides an optional time-series sink for pipeline
// metrics. It is deliberately fire-and-forget: medical readings never
// depend on it, and it can be disabled entirely in configuration.
package influxdb
