// Package observability provides the Prometheus metrics and OpenTelemetry
// tracing of the service.
//
// A Collector is handed to persistence.NewInstrumented so every backend call
// is counted and timed by operation and table. InitTracing installs the
// global tracer provider that the graph store records its spans through;
// spans are named "graph.<Operation>" and carry the vertex and edge type
// they act on.
package observability
