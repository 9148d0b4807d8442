package metrics

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/obsidianstack/pagewatch/internal/health"
	"github.com/obsidianstack/pagewatch/internal/pipeline"
)

const namespace = "pagewatch"

// Snapshot is everything exported on one scrape.
type Snapshot struct {
	Page         int
	Pipeline     pipeline.Stats
	Health       health.Snapshot
	WSClients    int
	CachedPages  int
	AlertsFiring int
}

// Families converts s into Prometheus metric families, sorted by name.
func Families(s Snapshot) []*dto.MetricFamily {
	p := s.Pipeline
	fams := []*dto.MetricFamily{
		gauge("alerts_firing", "Alert rules currently firing.", float64(s.AlertsFiring)),
		gauge("cache_pages", "Pages currently held in the result cache.", float64(s.CachedPages)),
		gauge("current_page", "Page the pipeline is following.", float64(s.Page)),
		healthStates(s.Health.State),
		gauge("health_uptime_percent", "Share of successful fetches in the recent window.", s.Health.UptimePct),
		counter("pipeline_cancellations_total", "Fetches cancelled before completing.", float64(p.Cancellations)),
		counter("pipeline_fetches_total", "Fetches started.", float64(p.Fetches)),
		gauge("pipeline_generation", "Current pipeline generation.", float64(p.Generation)),
		{
			Name: proto.String(name("pipeline_results_total")),
			Help: proto.String("Fetch results applied, by outcome."),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				counterMetric(float64(p.Failures), "outcome", "failure"),
				counterMetric(float64(p.Successes), "outcome", "success"),
			},
		},
		counter("pipeline_stale_results_total", "Results discarded because a newer generation existed.", float64(p.Stale)),
		{
			Name: proto.String(name("pipeline_triggers_total")),
			Help: proto.String("Pipeline triggers, by cause."),
			Type: dto.MetricType_COUNTER.Enum(),
			Metric: []*dto.Metric{
				counterMetric(float64(p.Triggers-p.TickTriggers), "cause", "change"),
				counterMetric(float64(p.TickTriggers), "cause", "tick"),
			},
		},
		gauge("ws_clients", "Connected WebSocket clients.", float64(s.WSClients)),
	}
	return fams
}

// Write encodes fams in the Prometheus text exposition format.
func Write(w io.Writer, fams []*dto.MetricFamily) error {
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range fams {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Handler serves GET /metrics from collect.
func Handler(collect func() Snapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var buf bytes.Buffer
		if err := Write(&buf, Families(collect())); err != nil {
			slog.Error("metrics: render failed", "err", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
		_, _ = w.Write(buf.Bytes())
	})
}

func name(s string) string { return namespace + "_" + s }

func gauge(n, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name(n)),
		Help:   proto.String(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: proto.Float64(v)}}},
	}
}

func counter(n, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name(n)),
		Help:   proto.String(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{counterMetric(v)},
	}
}

func counterMetric(v float64, labels ...string) *dto.Metric {
	m := &dto.Metric{Counter: &dto.Counter{Value: proto.Float64(v)}}
	for i := 0; i+1 < len(labels); i += 2 {
		m.Label = append(m.Label, &dto.LabelPair{
			Name:  proto.String(labels[i]),
			Value: proto.String(labels[i+1]),
		})
	}
	return m
}

// healthStates exports one series per state with 1 on the current one.
func healthStates(current string) *dto.MetricFamily {
	mf := &dto.MetricFamily{
		Name: proto.String(name("health_state")),
		Help: proto.String("Pipeline health state (1 for the current state)."),
		Type: dto.MetricType_GAUGE.Enum(),
	}
	for _, st := range []string{health.StateCritical, health.StateDegraded, health.StateHealthy, health.StateUnknown} {
		v := 0.0
		if st == current {
			v = 1
		}
		mf.Metric = append(mf.Metric, &dto.Metric{
			Label: []*dto.LabelPair{{Name: proto.String("state"), Value: proto.String(st)}},
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		})
	}
	return mf
}
