// Package config loads and validates the service configuration from a
// YAML file, with environment variable overrides for secrets.
package config
