package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/callwatch/callwatch/internal/api"
	"github.com/callwatch/callwatch/internal/broadcast"
	"github.com/callwatch/callwatch/internal/config"
	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/database/pgstore"
	"github.com/callwatch/callwatch/internal/metrics"
	"github.com/callwatch/callwatch/internal/monitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Configure structured logging.
	logger := slog.New(cfg.SlogHandler(os.Stdout))
	slog.SetDefault(logger)

	slog.Info("starting callwatch",
		"ami_host", cfg.AMIHost,
		"ami_port", cfg.AMIPort,
		"http_port", cfg.HTTPPort,
	)

	// Open the store: Postgres when a DSN is configured, embedded SQLite
	// otherwise.
	store, err := openStore(cfg)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Broadcast sink for downstream observers.
	sink, closeSink, err := openSink(cfg)
	if err != nil {
		slog.Error("failed to connect broadcast sink", "error", err)
		os.Exit(1)
	}
	defer closeSink()

	// Metrics registry: event counters plus on-scrape store gauges.
	reg := prometheus.NewRegistry()
	stats := metrics.NewStats(reg)
	reg.MustRegister(metrics.NewCollector(store.Calls(), store.Extensions(), time.Now()))

	// Application context for background goroutines.
	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	// State reconstruction pipeline: switch session -> processor -> store.
	mon := monitor.New(store, sink)
	proc := monitor.NewProcessor(mon, stats)
	svc := monitor.NewService(monitor.ServiceConfig{
		Host:                 cfg.AMIHost,
		Port:                 cfg.AMIPort,
		Username:             cfg.AMIUsername,
		Secret:               cfg.AMISecret,
		Events:               cfg.AMIEvents,
		DialTimeout:          cfg.DialTimeout,
		AuthTimeout:          cfg.AuthTimeout,
		KeepAliveInterval:    cfg.KeepAliveInterval,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		QueryTimeout:         cfg.QueryTimeout,
	}, proc, stats)
	if err := svc.Start(appCtx); err != nil {
		slog.Error("failed to start monitor", "error", err)
		os.Exit(1)
	}
	defer svc.Stop()

	jwtSecret, err := cfg.JWTSecretBytes()
	if err != nil {
		slog.Error("failed to decode jwt secret", "error", err)
		os.Exit(1)
	}

	// HTTP server using the api package.
	handler := api.NewServer(store, svc, cfg, jwtSecret, metrics.Handler(reg))
	defer handler.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt or server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		slog.Error("http server error", "error", err)
	}

	// Graceful shutdown with timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutting down")
	svc.Stop()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("http server shutdown error", "error", err)
		os.Exit(1)
	}

	slog.Info("callwatch stopped")
}

// openStore picks the backing store from configuration.
func openStore(cfg *config.Config) (database.Store, error) {
	if cfg.PostgresDSN != "" {
		slog.Info("using postgres store")
		return pgstore.New(cfg.PostgresDSN)
	}
	db, err := database.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	return database.NewStore(db), nil
}

// openSink connects the MQTT sink when a broker is configured, and falls
// back to a no-op sink otherwise.
func openSink(cfg *config.Config) (broadcast.Sink, func(), error) {
	if cfg.MQTTBroker == "" {
		slog.Info("no mqtt broker configured, broadcasting disabled")
		return broadcast.NopSink{}, func() {}, nil
	}
	sink, err := broadcast.NewMQTTSink(broadcast.MQTTOptions{
		Broker:      cfg.MQTTBroker,
		TopicPrefix: cfg.MQTTTopicPrefix,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("publishing state changes to mqtt", "broker", cfg.MQTTBroker)
	return sink, func() {
		if err := sink.Close(); err != nil {
			slog.Warn("mqtt disconnect error", "error", err)
		}
	}, nil
}
