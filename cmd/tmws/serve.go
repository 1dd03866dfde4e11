package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/tmws-ai/tmws/internal/accesscontrol"
	"github.com/tmws-ai/tmws/internal/config"
	"github.com/tmws-ai/tmws/internal/gateway/httpapi"
	"github.com/tmws-ai/tmws/internal/observability"
	"github.com/tmws-ai/tmws/internal/ratelimit"
	"github.com/tmws-ai/tmws/internal/scheduler"
	"github.com/tmws-ai/tmws/internal/storage"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the access-control HTTP API server",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `tmws --config path` and `tmws serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :8080)")
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	configPath := goutils.Env("TMWS_CONFIG", serveConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		logger.Info("no config file found, using defaults", slog.String("path", configPath))
		cfg = config.Default()
	}
	if servePort != "" {
		cfg.Server.ListenAddr = servePort
	}

	logger.Info("starting tmws", slog.String("addr", cfg.Server.Addr()))

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Observability stack; metrics and tracing are opt-in.
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}
	defer obs.Shutdown(context.Background())

	// Access-control core with the default seed plus configured policies.
	manager := accesscontrol.NewManager(accesscontrol.ManagerConfig{
		AllowedNamespaces: cfg.AccessControl.AllowedNamespaces,
		RateLimitPerHour:  cfg.AccessControl.RateLimitPerHour,
	}, logger)

	for _, ps := range cfg.AccessControl.Policies {
		p, err := ps.ToPolicy()
		if err != nil {
			return err
		}
		if err := manager.AddPolicy(p); err != nil {
			return err
		}
	}

	// Durable audit storage (optional).
	var auditRepo *storage.AuditRepository
	if cfg.Storage != nil {
		db, err := storage.Open(cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		auditRepo = storage.NewAuditRepository(db.GormDB())
		manager.WithAuditSink(auditRepo)
		obs.Probe.Register("db", db.Ping)
	}

	// Instrumented facade over the manager.
	instrumented := observability.NewInstrumentedManager(manager, obs.Metrics, obs.Tracing)

	// Approval expiry sweeper.
	sweeper, err := scheduler.New(instrumented, scheduler.DefaultSchedule, logger)
	if err != nil {
		return err
	}
	cancelSweeper := sweeper.Start(ctx)
	defer cancelSweeper()

	// Per-caller HTTP rate limiter (optional).
	var limiter *ratelimit.Limiter
	if cfg.RateLimit != nil {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.RateLimit.PerMinute(),
			BurstSize:         cfg.RateLimit.BurstSize(),
		})
		defer limiter.Stop()
	}

	gwCfg := buildGatewayConfig(cfg, obs)
	if auditRepo != nil {
		gwCfg.AuditStore = auditRepo
	}
	gw := httpapi.NewGateway(gwCfg, instrumented, limiter, logger)

	// Run the gateway and wait for a signal or server error.
	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Error("stopping gateway", slog.String("error", err.Error()))
	}
	return nil
}

func buildGatewayConfig(cfg *config.Config, obs *observability.Observability) httpapi.Config {
	gwCfg := httpapi.Config{
		ListenAddr:     cfg.Server.Addr(),
		EnableDocs:     cfg.Server.EnableDocs,
		MaxRequestSize: cfg.Server.MaxBody(),
	}

	if len(cfg.Server.APIKeys) > 0 {
		gwCfg.APIKeys = make(map[string]string, len(cfg.Server.APIKeys))
		for i, key := range cfg.Server.APIKeys {
			gwCfg.APIKeys[key] = fmt.Sprintf("client-%d", i+1)
		}
	}

	gwCfg.Probe = obs.Probe
	if obs.Metrics != nil {
		gwCfg.MetricsRegistry = obs.Metrics.Registry
		gwCfg.Metrics = obs.Metrics
	}
	if obs.Tracing != nil {
		gwCfg.Tracer = obs.Tracing.Tracer()
	}
	return gwCfg
}
