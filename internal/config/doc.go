// Package config loads the bridge configuration.
//
// Values come from Defaults, an optional YAML file and GCSB_* environment
// variables, in that order; command-line flags are applied by the caller.
// The configuration is static for the lifetime of the process.
package config
