// Package export persists the crawler's record log.
//
// CSVExporter owns the primary CSV file and rewrites it in full on every
// flush. Fanout wraps a primary exporter and replays each successful flush to
// best-effort mirrors such as blob stores, Postgres or Pub/Sub.
package export
