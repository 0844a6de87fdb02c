// Package config loads and validates the AMY telemetry core configuration.
//
// Configuration is read from a YAML file, merged over hardcoded defaults, and
// finally overridden by AMYCORE_* environment variables. Secrets (broker
// password, database URI, Influx token) should always come from the
// environment in production.
package config
