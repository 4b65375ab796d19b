// Package config provides the immutable process-wide configuration for the
// council service: council membership and chairman, upstream client tuning,
// usage store and quota settings, pricing, logging, and telemetry.
//
// Configuration is loaded once at startup (defaults -> YAML -> env) and is
// never mutated afterwards; changing the council requires a restart.
package config
