// Package metrics renders pipeline, health and hub counters in the Prometheus
// text exposition format at /metrics.
//
// Metric families are built directly as client_model protos from a Snapshot
// collected on every scrape, then encoded with expfmt. There is no registry:
// every value already lives in the pipeline Stats, the health Tracker or the
// WebSocket Hub.
package metrics
