package health

import (
	"context"
	"errors"
	"math"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var errFetch = errors.New("status 502")

func record(tr *Tracker, ok, failed int) {
	for i := 0; i < ok; i++ {
		tr.Record(nil)
	}
	for i := 0; i < failed; i++ {
		tr.Record(errFetch)
	}
}

func TestTracker_States(t *testing.T) {
	tests := []struct {
		name       string
		ok, failed int
		wantState  string
		wantUptime float64
	}{
		{"no samples", 0, 0, StateUnknown, 100},
		{"all good", 5, 0, StateHealthy, 100},
		{"boundary healthy", 17, 3, StateHealthy, 85},
		{"degraded", 14, 6, StateDegraded, 70},
		{"boundary degraded", 12, 8, StateDegraded, 60},
		{"critical", 2, 8, StateCritical, 20},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tr := NewTracker(nil)
			record(tr, tc.ok, tc.failed)
			if got := tr.State(); got != tc.wantState {
				t.Errorf("State: got %q, want %q", got, tc.wantState)
			}
			if got := tr.UptimePct(); math.Abs(got-tc.wantUptime) > 0.001 {
				t.Errorf("UptimePct: got %v, want %v", got, tc.wantUptime)
			}
		})
	}
}

func TestTracker_WindowSlides(t *testing.T) {
	tr := NewTracker(nil)
	record(tr, 0, Window) // fully critical
	if tr.State() != StateCritical {
		t.Fatalf("State: got %q, want critical", tr.State())
	}
	record(tr, Window, 0) // pushes every failure out
	if tr.State() != StateHealthy || tr.UptimePct() != 100 {
		t.Errorf("after recovery: state %q uptime %v", tr.State(), tr.UptimePct())
	}
	s := tr.Snapshot()
	if s.Samples != Window {
		t.Errorf("Samples: got %d, want %d", s.Samples, Window)
	}
	if s.Successes != Window || s.Failures != Window {
		t.Errorf("totals: got %d/%d", s.Successes, s.Failures)
	}
	if s.LastError != errFetch.Error() {
		t.Errorf("LastError: got %q", s.LastError)
	}
}

func TestServingStatus(t *testing.T) {
	tests := map[string]healthpb.HealthCheckResponse_ServingStatus{
		StateHealthy:  healthpb.HealthCheckResponse_SERVING,
		StateDegraded: healthpb.HealthCheckResponse_SERVING,
		StateCritical: healthpb.HealthCheckResponse_NOT_SERVING,
		StateUnknown:  healthpb.HealthCheckResponse_UNKNOWN,
	}
	for state, want := range tests {
		if got := ServingStatus(state); got != want {
			t.Errorf("ServingStatus(%q): got %v, want %v", state, got, want)
		}
	}
}

func TestTracker_MirrorsIntoGRPCHealth(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	conn, err := grpc.Dial(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: Service})
		if err != nil {
			t.Fatalf("Check: %v", err)
		}
		return resp.GetStatus()
	}

	tr := NewTracker(hs)
	if got := check(); got != healthpb.HealthCheckResponse_UNKNOWN {
		t.Errorf("before samples: got %v, want UNKNOWN", got)
	}

	tr.Record(nil)
	if got := check(); got != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("after success: got %v, want SERVING", got)
	}

	record(tr, 0, 5) // 1 of 6 = critical
	if got := check(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("after failures: got %v, want NOT_SERVING", got)
	}
}
