package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/pagewatch/internal/config"
)

const (
	defaultCooldown = 15 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	Page       int        `json:"page"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against pipeline samples and delivers
// webhook notifications when rules fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	client   *http.Client
	now      func() time.Time

	mu       sync.Mutex
	active   map[string]*Alert    // by rule name
	lastFire map[string]time.Time // by rule name, for cooldown
	history  []*Alert             // recently resolved alerts

	inflight sync.WaitGroup
}

// New creates an Engine from the alert configuration.
// An Engine with no rules is valid; Evaluate becomes a no-op.
func New(cfg config.AlertsConfig) *Engine {
	return &Engine{
		rules:    cfg.Rules,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
	}
}

// Evaluate tests every rule against s. Rules that start firing are stored and
// delivered asynchronously; firing rules whose condition no longer holds are
// resolved and delivered the same way.
func (e *Engine) Evaluate(s Sample) {
	if len(e.rules) == 0 {
		return
	}

	now := e.now()
	for _, rule := range e.rules {
		fires, value := evalCondition(rule.Condition, s)

		e.mu.Lock()
		var notify *Alert
		if fires {
			notify = e.fireLocked(rule, s, value, now)
		} else {
			notify = e.resolveLocked(rule.Name, now)
		}
		e.mu.Unlock()

		if notify == nil {
			continue
		}
		if notify.State == StateFiring {
			slog.Warn("alerts: alert fired",
				"rule", rule.Name, "page", s.Page, "value", value, "severity", notify.Severity)
		} else {
			slog.Info("alerts: alert resolved", "rule", rule.Name, "page", s.Page)
		}
		e.inflight.Add(1)
		go func(a *Alert) {
			defer e.inflight.Done()
			e.deliver(a)
		}(notify)
	}
}

// fireLocked records a firing alert unless one is already active or the rule
// is cooling down. It returns a copy to deliver, or nil.
func (e *Engine) fireLocked(rule config.AlertRule, s Sample, value float64, now time.Time) *Alert {
	if _, ok := e.active[rule.Name]; ok {
		return nil
	}
	cooldown := rule.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	if last, ok := e.lastFire[rule.Name]; ok && now.Sub(last) < cooldown {
		return nil
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:       uuid.NewString(),
		RuleName: rule.Name,
		Severity: sev,
		Value:    value,
		Page:     s.Page,
		Message: fmt.Sprintf("[%s] %s fired on page %d: %s (value %.2f)",
			sev, rule.Name, s.Page, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[rule.Name] = a
	e.lastFire[rule.Name] = now
	cp := *a
	return &cp
}

func (e *Engine) resolveLocked(name string, now time.Time) *Alert {
	a, ok := e.active[name]
	if !ok {
		return nil
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, name)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	cp := *a
	return &cp
}

// Active returns copies of all firing alerts plus alerts resolved within the
// past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}

// Wait blocks until every webhook delivery started so far has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}
