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

	"confcrm/internal/assistant"
	"confcrm/internal/auth"
	"confcrm/internal/config"
	"confcrm/internal/contacts"
	"confcrm/internal/httpserver"
	"confcrm/internal/logging"
	"confcrm/internal/observability"
	"confcrm/internal/providers"
	"confcrm/internal/providers/linkedin"
	"confcrm/internal/service"
	"confcrm/internal/store/pg"
)

// publicTemplateOwner owns the seeded starter templates.
const publicTemplateOwner = "system"

func main() {
	cfg := config.LoadAPI()

	_, flush, err := logging.InitWithSentry("api", cfg.LogFormat, cfg.SentryDSN)
	if err != nil {
		slog.Error("sentry init failed", "err", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DBConfig)
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	if applied, err := pg.Migrate(ctx, db); err != nil {
		slog.Error("api migrate failed", "err", err)
		os.Exit(1)
	} else if len(applied) > 0 {
		slog.Info("migrations applied", "versions", applied)
	}
	store := pg.New(db)

	rdb := contacts.NewRedisClient(cfg.RedisConfig)
	lookup := contacts.Lookup(store, rdb, cfg.ContactCacheTTL)

	observability.Register(prometheus.DefaultRegisterer)

	templates := &service.TemplateService{Store: store}
	if cfg.SeedPublic {
		seeded, err := templates.SeedDefaults(ctx, publicTemplateOwner)
		if err != nil {
			slog.Error("template seed failed", "err", err)
		} else if len(seeded) > 0 {
			slog.Info("public templates seeded", "count", len(seeded))
		}
	}

	api := &httpserver.API{
		Campaigns: &service.CampaignService{Store: store, Templates: store, Contacts: lookup},
		Templates: templates,
		Tokens:    &auth.Tokens{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer},
		PageSize:  cfg.PageSize,
	}
	if oauth := providers.NewLinkedInOAuth(cfg.LinkedInConfig, store); oauth != nil {
		api.LinkedIn = oauth
		api.Poster = &linkedin.Poster{OAuth: oauth, API: oauth.API}
	} else {
		slog.Info("linkedin not configured; routes disabled")
	}
	if cfg.AIConfig.APIKey != "" {
		gen, err := assistant.NewGemini(ctx, cfg.AIConfig.APIKey, cfg.AIConfig.Model)
		if err != nil {
			slog.Error("gemini client init failed", "err", err)
			os.Exit(1)
		}
		api.Assistant = &assistant.Assistant{Gen: gen}
	}

	s := httpserver.New()
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))
	api.Register(s.Mux)

	checks := []httpserver.ReadyzCheck{func(ctx context.Context) error { return db.Ping(ctx) }}
	if rdb != nil {
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	s.Health(2*time.Second, checks...)
	s.Mux.Handle("/metrics", httpserver.MetricsHandler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	if rdb != nil {
		_ = rdb.Close()
	}
	db.Close()
}
