// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that crawl workers use to report progress. The hub batches events
// on a background goroutine and fans them out to pluggable sinks such as the
// status snapshot, run-level Prometheus collectors, or structured logs.
package progress
