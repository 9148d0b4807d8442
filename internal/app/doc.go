// Package app wires pagewatch together.
//
// The watched page lives in a replaying source seeded from config. A derived
// fetch pipeline follows it: every page change (from PUT /api/v1/page or a
// config reload) and every refresh tick fetches that page of the org's repos,
// superseding any fetch still in flight. Each pipeline output is
//   - cached per page in the store,
//   - recorded in the health tracker (mirrored into gRPC health),
//   - pushed to WebSocket clients,
//   - evaluated against the alert rules.
//
// Alongside it, a single cancellable task fetches the org owner once.
//
// Serve runs the HTTP server (REST, /metrics, /ws/stream), the gRPC health
// server, the cache eviction loop, the hub and the config watcher, and on
// shutdown disposes the pipeline and cancels the owner fetch.
package app
