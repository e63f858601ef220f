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
	"confcrm/internal/httpserver"
	"confcrm/internal/logging"
	"confcrm/internal/observability"
	sqsqueue "confcrm/internal/queue/sqs"
)

func main() {
	cfg := config.LoadWebhook()

	_, flush, err := logging.InitWithSentry("webhook", cfg.LogFormat, cfg.SentryDSN)
	if err != nil {
		slog.Error("sentry init failed", "err", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	producer, err := sqsqueue.NewProducer(ctx, cfg.SQSConfig)
	if err != nil {
		slog.Error("webhook sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	s := httpserver.New()
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))
	wh := &httpserver.Webhook{
		Queue:  producer,
		Secret: cfg.Secret,
	}
	wh.Register(s.Mux)
	s.Health(2*time.Second, func(c context.Context) error {
		return sqsqueue.Ping(c, producer.SQS, producer.QueueURL)
	})
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
		slog.Info("webhook shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("webhook listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("webhook server failed", "err", err)
		os.Exit(1)
	}
}
