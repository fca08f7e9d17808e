// Package config loads and validates loom engine configuration from CUE
// sources.
//
// A configuration file is plain CUE unified against the embedded #Config
// schema, so unknown fields and out-of-range values fail at load time with
// file and line positions. Defaults live in the schema itself; Default
// returns the same configuration for callers that run without a file.
//
// The exclusion rule descriptors and the plugin set are fixed at attach.
// Nothing in this package is re-read at runtime.
package config
