package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/obsidianstack/pagewatch/internal/alerts"
	"github.com/obsidianstack/pagewatch/internal/api"
	"github.com/obsidianstack/pagewatch/internal/auth"
	"github.com/obsidianstack/pagewatch/internal/config"
	"github.com/obsidianstack/pagewatch/internal/github"
	"github.com/obsidianstack/pagewatch/internal/health"
	"github.com/obsidianstack/pagewatch/internal/metrics"
	"github.com/obsidianstack/pagewatch/internal/pipeline"
	"github.com/obsidianstack/pagewatch/internal/source"
	"github.com/obsidianstack/pagewatch/internal/store"
	"github.com/obsidianstack/pagewatch/internal/task"
	"github.com/obsidianstack/pagewatch/internal/ws"
	"github.com/obsidianstack/pagewatch/pkg/types"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// App is one running pagewatch instance.
type App struct {
	id      string
	cfg     *config.Config
	cfgPath string
	now     func() time.Time

	client  *github.Client
	page    *source.Source[int]
	pipe    *pipeline.Pipeline[int, []types.Repo]
	outSub  *source.Subscription
	store   *store.Store
	tracker *health.Tracker
	hs      *grpchealth.Server
	hub     *ws.Hub
	alerts  *alerts.Engine
	owner   *task.Task[string, types.Owner]

	mu       sync.Mutex
	filePage int // source.page as last read from the config file
	view     *types.PageView
	ownerRes *task.Result[string, types.Owner]

	startPage int

	closeOnce sync.Once
}

// Option adjusts an App at construction.
type Option func(*App)

// WithPage starts the pipeline on page instead of the configured
// source.page. A later config reload only moves the page if source.page
// itself changes in the file.
func WithPage(page int) Option {
	return func(a *App) { a.startPage = page }
}

// New builds the component graph and starts the page pipeline and the owner
// fetch. cfgPath may be empty, in which case Serve does not watch for
// config changes. The pipeline lives until ctx is cancelled or Close is called.
func New(ctx context.Context, cfg *config.Config, cfgPath string, opts ...Option) (*App, error) {
	client, err := github.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	policy, err := pipeline.ParseErrorPolicy(cfg.Pipeline.OnError)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		id:        uuid.NewString(),
		cfg:       cfg,
		cfgPath:   cfgPath,
		now:       time.Now,
		client:    client,
		store:     store.New(cfg.Server.Cache.TTL),
		hs:        grpchealth.NewServer(),
		hub:       ws.New(cfg.Server.WS.Interval),
		alerts:    alerts.New(cfg.Alerts),
		filePage:  cfg.Source.Page,
		startPage: cfg.Source.Page,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.page = source.NewWith(a.startPage)
	a.tracker = health.NewTracker(a.hs)

	a.pipe = pipeline.New[int, []types.Repo](ctx, a.page, client.Repos, pipeline.Options{
		Interval: cfg.Pipeline.RefreshInterval,
		OnError:  policy,
	})
	a.outSub = a.pipe.SubscribeOutput(a.onOutput)

	a.owner = task.Start(ctx, cfg.Source.Org, 0,
		func(ctx context.Context, _ string) (types.Owner, error) { return client.Owner(ctx) },
		a.onOwner)

	slog.Info("app: started",
		"instance", a.id,
		"org", cfg.Source.Org,
		"page", a.startPage,
		"refresh_interval", cfg.Pipeline.RefreshInterval,
		"on_error", policy.String(),
		"alert_rules", len(cfg.Alerts.Rules),
	)
	return a, nil
}

// ID is the random instance identifier logged at startup.
func (a *App) ID() string { return a.id }

// Handler returns the combined HTTP handler: REST API, /metrics and the
// WebSocket stream.
func (a *App) Handler() http.Handler {
	srvAuth := a.cfg.Server.Auth
	guard := func(next http.Handler) http.Handler {
		return auth.RequireAPIKey(srvAuth.Mode, srvAuth.EffectiveHeader(), srvAuth.Key(), next)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", api.New(a, a.store, guard))
	mux.Handle("/metrics", metrics.Handler(a.metricsSnapshot))
	mux.Handle("/ws/stream", a.hub)
	return mux
}

// GRPCServer returns a gRPC server exposing the health service behind the API
// key interceptor.
func (a *App) GRPCServer() *grpc.Server {
	srvAuth := a.cfg.Server.Auth
	interceptor := auth.APIKeyInterceptor(
		srvAuth.Mode,
		strings.ToLower(srvAuth.EffectiveHeader()),
		srvAuth.Key(),
	)
	srv := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
	healthpb.RegisterHealthServer(srv, a.hs)
	return srv
}

// Run listens on the configured ports and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	httpLis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.HTTPPort))
	if err != nil {
		return fmt.Errorf("app: listen http port %d: %w", a.cfg.Server.HTTPPort, err)
	}
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Server.GRPCPort))
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("app: listen grpc port %d: %w", a.cfg.Server.GRPCPort, err)
	}
	return a.Serve(ctx, httpLis, grpcLis)
}

// Serve runs the background loops and both servers on the given listeners.
// It returns when ctx is cancelled or a server fails, after shutting
// everything down and closing the App.
func (a *App) Serve(ctx context.Context, httpLis, grpcLis net.Listener) error {
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.store.Run(ctx)
	go a.hub.Run(ctx)
	if a.cfgPath != "" {
		go func() {
			if err := config.Watch(ctx, a.cfgPath, a.onConfig); err != nil {
				slog.Error("app: config watcher stopped", "err", err)
			}
		}()
	}

	grpcSrv := a.GRPCServer()
	httpSrv := &http.Server{Handler: a.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errc := make(chan error, 2)
	go func() {
		slog.Info("app: gRPC health listening", "addr", grpcLis.Addr().String())
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errc <- fmt.Errorf("app: grpc serve: %w", err)
		}
	}()
	go func() {
		slog.Info("app: HTTP server listening", "addr", httpLis.Addr().String())
		if err := httpSrv.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("app: http serve: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		slog.Error("app: server failed", "err", serveErr)
	}

	slog.Info("app: shutting down", "instance", a.id)
	a.tracker.Shutdown()
	grpcSrv.GracefulStop()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		slog.Warn("app: http shutdown", "err", err)
	}
	return serveErr
}

// Close disposes the pipeline, cancels the owner fetch and waits for pending
// alert deliveries. Idempotent.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		a.outSub.Unsubscribe()
		a.pipe.Dispose()
		a.owner.Cancel()
		a.page.Close()
		<-a.pipe.Done()
		a.alerts.Wait()
	})
}

// --- api.Backend ------------------------------------------------------------

// View returns the latest page view.
func (a *App) View() (types.PageView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.view == nil {
		return types.PageView{}, false
	}
	return *a.view, true
}

// SetPage moves the watched page; an unchanged value does not re-trigger.
func (a *App) SetPage(page int) bool {
	changed := source.SetIfChanged(a.page, page)
	slog.Info("app: page set", "page", page, "changed", changed)
	return changed
}

// Owner reports the one-shot owner fetch.
func (a *App) Owner() api.OwnerResponse {
	resp := api.OwnerResponse{State: a.owner.State().String()}
	a.mu.Lock()
	res := a.ownerRes
	a.mu.Unlock()
	if res != nil {
		if res.Err != nil {
			resp.Error = res.Err.Error()
		} else {
			o := res.Value
			resp.Owner = &o
		}
	}
	return resp
}

// Health returns the fetch health window.
func (a *App) Health() health.Snapshot {
	return a.tracker.Snapshot()
}

// Alerts returns firing and recently resolved alerts.
func (a *App) Alerts() []alerts.Alert {
	return a.alerts.Active()
}

// --- callbacks --------------------------------------------------------------

// onOutput runs on the pipeline's event loop for every published output.
func (a *App) onOutput(out pipeline.Output[int, []types.Repo]) {
	v := toView(out, a.now())

	a.tracker.Record(out.Err)
	if out.Err == nil {
		a.store.Put(out.Key, out.Result, out.Generation)
	}

	a.mu.Lock()
	a.view = &v
	a.mu.Unlock()

	a.hub.Publish(v)
	a.alerts.Evaluate(a.alertSample(v))

	slog.Info("app: page published",
		"page", v.Page, "repos", len(v.Repos), "status", v.Status, "generation", v.Generation)
}

func (a *App) onOwner(res task.Result[string, types.Owner]) {
	a.mu.Lock()
	a.ownerRes = &res
	a.mu.Unlock()
	if res.Err != nil {
		slog.Warn("app: owner fetch failed", "org", res.Key, "err", res.Err)
		return
	}
	slog.Info("app: owner fetched", "org", res.Key, "public_repos", res.Value.PublicRepos)
}

// onConfig applies a reloaded config. Only source.page is live, and only when
// it differs from the page last read from the file, so a page chosen by flag
// or SetPage survives unrelated edits. Other changes are logged and take
// effect on restart.
func (a *App) onConfig(cfg *config.Config) {
	if cfg.Source.Org != a.cfg.Source.Org || cfg.Source.BaseURL != a.cfg.Source.BaseURL ||
		cfg.Source.PerPage != a.cfg.Source.PerPage || cfg.Pipeline != a.cfg.Pipeline {
		slog.Warn("app: config change requires restart, applying page only")
	}

	a.mu.Lock()
	prev := a.filePage
	a.filePage = cfg.Source.Page
	a.mu.Unlock()
	if prev == cfg.Source.Page {
		slog.Debug("app: config page unchanged, keeping current page", "file_page", prev)
		return
	}
	if source.SetIfChanged(a.page, cfg.Source.Page) {
		slog.Info("app: page changed by config", "page", cfg.Source.Page)
	}
}

func (a *App) metricsSnapshot() metrics.Snapshot {
	page, _ := a.page.Current()
	return metrics.Snapshot{
		Page:         page,
		Pipeline:     a.pipe.Stats(),
		Health:       a.tracker.Snapshot(),
		WSClients:    a.hub.Count(),
		CachedPages:  a.store.Count(),
		AlertsFiring: a.alerts.Firing(),
	}
}

func (a *App) alertSample(v types.PageView) alerts.Sample {
	st := a.pipe.Stats()
	hs := a.tracker.Snapshot()
	return alerts.Sample{
		Page:          v.Page,
		Repos:         len(v.Repos),
		Status:        v.Status,
		State:         hs.State,
		UptimePct:     hs.UptimePct,
		Failures:      hs.Failures,
		StaleResults:  st.Stale,
		Cancellations: st.Cancellations,
		Generation:    v.Generation,
	}
}

func toView(out pipeline.Output[int, []types.Repo], now time.Time) types.PageView {
	v := types.PageView{
		Page:       out.Key,
		Repos:      out.Result,
		Generation: out.Generation,
		Status:     types.StatusOK,
		UpdatedAt:  now.UTC(),
	}
	if v.Repos == nil {
		v.Repos = []types.Repo{}
	}
	if out.Err != nil {
		v.Error = out.Err.Error()
		v.Status = types.StatusError
		if out.HasResult {
			v.Status = types.StatusStale
		}
	}
	return v
}
