package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/Willytecheira/nexus-wa-core-sub001/internal/adapter"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/bus"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/config"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/httpserver"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/logging"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/observability"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/session"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/store/pg"
	"github.com/Willytecheira/nexus-wa-core-sub001/internal/webhook"
)

func main() {
	cfg := config.LoadServer()
	logging.Init("server", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DBDSN, pg.PoolOptions{
		MaxConns: cfg.DBPoolMaxConns,
		MinConns: cfg.DBPoolMinConns,
	})
	if err != nil {
		slog.Error("db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	gw := pg.New(db)

	whTimeout := mustDuration(cfg.WebhookTimeout, "WEBHOOK_TIMEOUT")
	policy := webhook.DefaultPolicy()
	if cfg.WebhookMaxAttempts > 0 {
		policy.MaxAttempts = cfg.WebhookMaxAttempts
	}
	sender := webhook.NewSender(gw, whTimeout, policy)
	sender.Limiter = rate.NewLimiter(rate.Limit(cfg.WebhookRPS), cfg.WebhookBurst)

	hub := bus.NewHub()
	go hub.Run(ctx)

	var factory adapter.Factory
	switch cfg.AdapterMode {
	case "", "sim":
		factory = adapter.NewSimFactory(adapter.SimOptions{})
	default:
		slog.Error("unknown adapter mode", "mode", cfg.AdapterMode)
		os.Exit(1)
	}

	mgr := session.NewManager(session.NewStore(), gw, hub, sender, factory, session.Options{
		SessionsDir: cfg.SessionsDir,
		QRDir:       cfg.QRDir,
		InitTimeout: mustDuration(cfg.AdapterInitTimeout, "ADAPTER_INIT_TIMEOUT"),
	})

	sum, err := mgr.RestoreSessions(ctx)
	if err != nil {
		slog.Error("restore sweep failed", "err", err)
	} else {
		slog.Info("restore sweep", "restored", sum.Restored, "skipped", sum.Skipped, "failed", sum.Failed)
	}

	s := httpserver.New()
	api := &httpserver.API{Manager: mgr, Store: gw, WS: hub}
	api.Register(s.Mux)

	s.Mux.Handle("/metrics", promhttp.Handler())
	s.MountReadyz(2*time.Second, func(ctx context.Context) error {
		return db.Ping(ctx)
	})

	handler := httpserver.Logging(httpserver.Metrics(observability.APIRequests, observability.APIDuration)(s.Mux))
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("server shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		mgr.Shutdown(shutdownCtx)
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("server listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}

func mustDuration(s, name string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Error("invalid duration", "name", name, "value", s)
		os.Exit(1)
	}
	return d
}
