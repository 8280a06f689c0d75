package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/damian-anslik/cpapi-app/api"
	"github.com/damian-anslik/cpapi-app/config"
	"github.com/damian-anslik/cpapi-app/gateway"
	"github.com/damian-anslik/cpapi-app/history"
	"github.com/damian-anslik/cpapi-app/infrastructure/logger"
	"github.com/damian-anslik/cpapi-app/internal/engine"
	"github.com/damian-anslik/cpapi-app/internal/session"
	"github.com/damian-anslik/cpapi-app/internal/store"
	"github.com/damian-anslik/cpapi-app/metrics"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "config file path")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	appLog, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenPebble(cfg.Store.Path)
	if err != nil {
		appLog.Fatal("open store", zap.Error(err))
	}
	defer db.Close()

	client := &gateway.Client{
		BaseURL:    cfg.Gateway.BaseURL,
		HTTPClient: gateway.NewDefaultHTTPClient(),
		Limiter:    gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst),
	}

	if err := session.Init(ctx, client, appLog); err != nil {
		appLog.Fatal("brokerage session init", zap.Error(err))
	}

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
	}

	histService := &history.Service{
		Cache:     db,
		Directory: db,
		Source:    client,
		Logger:    appLog,
	}
	apiServer := api.NewServer(histService, db, client, cfg.API.AllowedOrigins, appLog)

	eng, err := engine.New(engine.Config{
		Interval:       cfg.Engine.Interval(),
		HousekeepEvery: cfg.Engine.HousekeepEvery,
	}, engine.Components{
		Orders:     db,
		Portfolios: db,
		Committer:  db,
		Directory:  db,
		Quotes:     client,
		Logger:     appLog,
		OnFill:     func(ev engine.FillEvent) { apiServer.Hub().Publish(ev) },
	})
	if err != nil {
		appLog.Fatal("build engine", zap.Error(err))
	}

	keepAlive := &session.KeepAlive{
		API:      client,
		Interval: cfg.Session.KeepAliveInterval(),
		Logger:   appLog,
	}
	go keepAlive.Run(ctx)

	eng.Start(ctx)

	// Hot reload: only the cycle interval is applied live.
	go func() {
		watcher := config.Watcher{Path: *cfgPath}
		if err := watcher.Start(ctx, func(updated config.AppConfig) {
			eng.SetInterval(updated.Engine.Interval())
		}); err != nil && ctx.Err() == nil {
			appLog.Warn("config watcher stopped", zap.Error(err))
		}
	}()

	notifySystemd(ctx, appLog)

	if err := apiServer.Start(ctx, cfg.API.Addr); err != nil {
		appLog.Error("api server", zap.Error(err))
	}

	// API server returned: we are shutting down.
	eng.Stop()
	appLog.Info("exiting")
}

// notifySystemd signals readiness and keeps the watchdog fed when the
// process runs under systemd; it is a no-op otherwise.
func notifySystemd(ctx context.Context, appLog *logger.Logger) {
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		appLog.Warn("sd_notify failed", zap.Error(err))
	} else if ok {
		appLog.Info("systemd notified ready")
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	}()
}
