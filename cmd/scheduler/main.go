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

	"confcrm/internal/config"
	"confcrm/internal/contacts"
	"confcrm/internal/httpserver"
	"confcrm/internal/logging"
	"confcrm/internal/observability"
	"confcrm/internal/providers"
	"confcrm/internal/scheduler"
	"confcrm/internal/service"
	"confcrm/internal/store/pg"
)

func main() {
	cfg := config.LoadScheduler()

	_, flush, err := logging.InitWithSentry("scheduler", cfg.LogFormat, cfg.SentryDSN)
	if err != nil {
		slog.Error("sentry init failed", "err", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DBConfig)
	if err != nil {
		slog.Error("scheduler db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	store := pg.New(db)

	rdb := contacts.NewRedisClient(cfg.RedisConfig)
	lookup := contacts.Lookup(store, rdb, cfg.ContactCacheTTL)

	observability.Register(prometheus.DefaultRegisterer)

	oauth := providers.NewLinkedInOAuth(cfg.LinkedInConfig, store)
	registry := providers.NewRegistry(providers.Options{
		SMTP:            cfg.SMTPConfig,
		LinkedIn:        cfg.LinkedInConfig,
		BreakerFailures: cfg.BreakerFailures,
		BreakerOpenFor:  cfg.BreakerOpenFor,
	}, oauth)
	slog.Info("channels registered", "channels", registry.Channels())

	sched := &scheduler.Scheduler{
		Store:     store,
		Contacts:  lookup,
		Sender:    registry,
		Completer: &service.CampaignService{Store: store, Templates: store, Contacts: lookup},
		Config: scheduler.Config{
			WorkerID:    cfg.WorkerID,
			BatchSize:   cfg.BatchSize,
			Concurrency: cfg.Concurrency,
			LeaseTTL:    cfg.LeaseTTL,
			SendTimeout: cfg.SendTimeout,
			MaxAttempts: cfg.MaxAttempts,
		},
	}

	s := httpserver.New()
	checks := []httpserver.ReadyzCheck{func(c context.Context) error { return db.Ping(c) }}
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, func(c context.Context) error { return rdb.Ping(c).Err() })
	}
	s.Health(2*time.Second, checks...)
	s.Mux.Handle("/metrics", httpserver.MetricsHandler()).Methods(http.MethodGet)

	healthSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("scheduler health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	if oauth != nil {
		go scheduler.RunPeriodic(ctx, "oauth_state_cleanup", cfg.StateCleanupPeriod, func(ctx context.Context) error {
			n, err := oauth.PurgeExpired(ctx)
			if n > 0 {
				slog.Info("expired oauth states purged", "count", n)
			}
			return err
		})
	}

	runErrCh := make(chan error, 1)
	go func() {
		slog.Info("scheduler starting", "interval", cfg.Interval, "batch_size", cfg.BatchSize, "concurrency", cfg.Concurrency)
		runErrCh <- sched.Run(ctx, cfg.Interval)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-runErrCh:
		if err != nil {
			slog.Error("scheduler loop failed", "err", err)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("scheduler health server failed", "err", err)
		}
	case sig := <-sigCh:
		slog.Info("scheduler shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	// In-flight sends finish under their own timeout before the pool closes.
	select {
	case <-runErrCh:
	case <-time.After(cfg.SendTimeout + 5*time.Second):
		slog.Warn("scheduler shutdown timeout waiting for pass")
	}
}
