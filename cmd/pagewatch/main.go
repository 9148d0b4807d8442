package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/obsidianstack/pagewatch/internal/app"
	"github.com/obsidianstack/pagewatch/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	page := flag.Int("page", -1, "override source.page from the config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("pagewatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	var opts []app.Option
	if *page >= 0 {
		opts = append(opts, app.WithPage(*page))
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err == nil && level != slog.LevelInfo {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	}

	slog.Info("config loaded",
		"org", cfg.Source.Org,
		"page", cfg.Source.Page,
		"page_override", *page,
		"http_port", cfg.Server.HTTPPort,
		"grpc_port", cfg.Server.GRPCPort,
		"auth_mode", cfg.Server.Auth.Mode,
		"cache_ttl", cfg.Server.Cache.TTL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, *configPath, opts...)
	if err != nil {
		slog.Error("failed to start", "err", err)
		os.Exit(1)
	}

	if err := a.Run(ctx); err != nil {
		slog.Error("pagewatch stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("pagewatch stopped")
}
