package health

import (
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Window is the number of recent fetch outcomes tracked for uptime %.
const Window = 20

// State constants reported by the tracker.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Uptime thresholds for each state.
const (
	ThresholdHealthy  = 85.0
	ThresholdDegraded = 60.0
)

// Service is the gRPC health service name the pipeline state is published under.
const Service = "pagewatch.Pipeline"

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	State       string    `json:"state"`
	UptimePct   float64   `json:"uptime_pct"`
	Samples     int       `json:"samples"`
	Successes   uint64    `json:"successes"`
	Failures    uint64    `json:"failures"`
	LastError   string    `json:"last_error,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Tracker derives a health state from the outcomes of recent fetches and
// mirrors it into a gRPC health server.
//
// All exported methods are safe for concurrent use.
type Tracker struct {
	grpc *health.Server
	now  func() time.Time

	mu          sync.Mutex
	history     []bool // newest last
	successes   uint64
	failures    uint64
	lastErr     string
	lastSuccess time.Time
	lastFailure time.Time
}

// NewTracker returns a Tracker publishing into hs. hs may be nil.
func NewTracker(hs *health.Server) *Tracker {
	t := &Tracker{grpc: hs, now: time.Now}
	t.publish(StateUnknown)
	return t
}

// Record adds one fetch outcome. A nil err is a success.
func (t *Tracker) Record(err error) {
	t.mu.Lock()
	if len(t.history) >= Window {
		t.history = t.history[1:]
	}
	t.history = append(t.history, err == nil)
	if err == nil {
		t.successes++
		t.lastSuccess = t.now()
	} else {
		t.failures++
		t.lastErr = err.Error()
		t.lastFailure = t.now()
	}
	state := stateFromUptime(t.uptimeLocked(), len(t.history))
	t.mu.Unlock()

	t.publish(state)
}

// UptimePct returns the percentage of successful fetches in the window.
func (t *Tracker) UptimePct() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uptimeLocked()
}

// State returns the current health state.
func (t *Tracker) State() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return stateFromUptime(t.uptimeLocked(), len(t.history))
}

// Snapshot returns a copy of the tracker state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	up := t.uptimeLocked()
	return Snapshot{
		State:       stateFromUptime(up, len(t.history)),
		UptimePct:   up,
		Samples:     len(t.history),
		Successes:   t.successes,
		Failures:    t.failures,
		LastError:   t.lastErr,
		LastSuccess: t.lastSuccess,
		LastFailure: t.lastFailure,
	}
}

// Shutdown marks every service NOT_SERVING so clients stop routing here.
func (t *Tracker) Shutdown() {
	if t.grpc != nil {
		t.grpc.Shutdown()
	}
}

func (t *Tracker) uptimeLocked() float64 {
	if len(t.history) == 0 {
		return 100 // assume up before first observation
	}
	var ok int
	for _, s := range t.history {
		if s {
			ok++
		}
	}
	return float64(ok) * 100 / float64(len(t.history))
}

func (t *Tracker) publish(state string) {
	if t.grpc == nil {
		return
	}
	st := ServingStatus(state)
	t.grpc.SetServingStatus(Service, st)
	t.grpc.SetServingStatus("", st)
}

// ServingStatus maps a tracker state onto the gRPC health protocol.
func ServingStatus(state string) healthpb.HealthCheckResponse_ServingStatus {
	switch state {
	case StateHealthy, StateDegraded:
		return healthpb.HealthCheckResponse_SERVING
	case StateCritical:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

func stateFromUptime(uptime float64, samples int) string {
	switch {
	case samples == 0:
		return StateUnknown
	case uptime >= ThresholdHealthy:
		return StateHealthy
	case uptime >= ThresholdDegraded:
		return StateDegraded
	default:
		return StateCritical
	}
}
