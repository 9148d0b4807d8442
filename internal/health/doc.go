// Package health tracks the outcome of recent page fetches.
//
// Tracker keeps a sliding window of the last 20 outcomes and derives:
//   - UptimePct: successful fetches / samples * 100
//   - State: healthy (>= 85), degraded (>= 60), critical, or unknown before
//     the first outcome
//
// The state is mirrored into a grpc/health Server under the "pagewatch.Pipeline"
// service and the overall "" service: healthy and degraded map to SERVING,
// critical to NOT_SERVING, unknown to UNKNOWN.
package health
