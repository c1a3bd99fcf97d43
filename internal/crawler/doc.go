// Package crawler implements the clinical trial crawl: the listing paginator,
// the detail extractor with its text-pattern rules, and the engine that sweeps
// queries, pages and records while checkpointing through an Exporter.
package crawler
