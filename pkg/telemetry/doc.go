// Package telemetry wires loom's observability: zerolog structured logging,
// Prometheus metrics for the load pipeline, OpenTelemetry tracing, and an
// asynchronous buffer in front of the event journal. The engine consumes
// these through its narrow StatsRecorder and EventSink contracts; nothing
// in pkg/engine depends on this package.
package telemetry
