package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"confcrm/internal/config"
	"confcrm/internal/domain"
	"confcrm/internal/httpserver"
	"confcrm/internal/logging"
	"confcrm/internal/observability"
	sqsqueue "confcrm/internal/queue/sqs"
	"confcrm/internal/service"
	"confcrm/internal/store/pg"
)

func main() {
	cfg := config.LoadEvents()

	_, flush, err := logging.InitWithSentry("events-processor", cfg.LogFormat, cfg.SentryDSN)
	if err != nil {
		slog.Error("sentry init failed", "err", err)
	}
	defer flush()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DBConfig)
	if err != nil {
		slog.Error("events-processor db connect failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	events := &service.EventService{Store: pg.New(db)}

	sqsClient, err := sqsqueue.NewClient(ctx, cfg.SQSConfig)
	if err != nil {
		slog.Error("events-processor sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	consumer := &sqsqueue.EventConsumer{
		SQS:               sqsClient,
		QueueURL:          cfg.QueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}

	s := httpserver.New()
	s.Health(2*time.Second,
		func(c context.Context) error { return db.Ping(c) },
		func(c context.Context) error { return sqsqueue.Ping(c, sqsClient, cfg.QueueURL) },
	)
	s.Mux.Handle("/metrics", httpserver.MetricsHandler()).Methods(http.MethodGet)
	healthSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	healthErrCh := make(chan error, 1)
	go func() {
		slog.Info("events-processor health listening", "port", cfg.Port)
		healthErrCh <- healthSrv.ListenAndServe()
	}()

	pollErrCh := make(chan error, 1)
	go func() {
		slog.Info("events-processor starting poll", "queue_url", cfg.QueueURL)
		pollErrCh <- consumer.PollConcurrent(ctx, cfg.Concurrency, func(ctx context.Context, ev sqsqueue.ChannelEvent) error {
			return apply(ctx, events, ev)
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-pollErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("events-processor poll failed", "err", err)
		}
	case err := <-healthErrCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("events-processor health server failed", "err", err)
		}
	case sig := <-sigCh:
		slog.Info("events-processor shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = healthSrv.Shutdown(shutdownCtx)

	select {
	case <-pollErrCh:
	case <-time.After(10 * time.Second):
		slog.Warn("events-processor shutdown timeout waiting for poll loop")
	}
}

// apply drops events that can never succeed and returns everything else so
// SQS redelivers it. An unknown message id is retried: the send that produced
// it may not have been recorded yet.
func apply(ctx context.Context, events *service.EventService, ev sqsqueue.ChannelEvent) error {
	err := events.Apply(ctx, service.ChannelEvent{
		Channel:           domain.ChannelType(ev.Channel),
		ExternalMessageID: ev.ExternalMessageID,
		Event:             ev.Event,
		OccurredAt:        ev.OccurredAt,
		Detail:            ev.Detail,
	})
	if errors.Is(err, domain.ErrValidation) {
		slog.Warn("dropping invalid channel event", "err", err, "channel", ev.Channel, "event", ev.Event)
		return nil
	}
	return err
}
