// Package sinks implements concrete progress consumers: structured logging, an
// in-memory snapshot backing the status endpoint, run-level Prometheus
// collectors and run bookkeeping through a store.RunRepository. Each sink
// satisfies progress.Sink.
package sinks
