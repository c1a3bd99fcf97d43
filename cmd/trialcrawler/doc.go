// Package main hosts the trialcrawler command.
//
// Architecture overview:
//   - crawl: drives one headless Chrome session per worker through the
//     ClinicalTrials.gov search listing for every configured disease, visits
//     each study page and rewrites the full record log as a BOM-prefixed CSV
//     every ten records, at the end of each query and once more on exit.
//     SIGINT/SIGTERM stop the sweep; accumulated records are still saved.
//   - Mirrors: every successful flush is optionally copied to a local
//     directory or a GCS bucket, replaced in a Postgres table and announced on
//     a Pub/Sub topic. Mirror failures are logged and never fail the crawl.
//   - Status: when server.addr is set a chi server exposes /healthz, /readyz,
//     /metrics and /v1/progress for the lifetime of the crawl.
//   - clean: deduplicates the crawl export by NCT ID, normalizes titles, maps
//     sponsors to regions and writes per-disease and per-region counts.
//   - pubmed: counts the year's PubMed publications for each disease through
//     the NCBI E-utilities esearch endpoint.
//
// Configuration comes from a YAML file (--config) and CRAWLER_* environment
// variables, e.g. CRAWLER_CRAWLER_MAX_PAGES=5 or CRAWLER_SERVER_ADDR=:8080.
package main
