package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"tutorlink/internal/relay"
	"tutorlink/pkg/config"
	"tutorlink/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	registry := prometheus.NewRegistry()
	metrics := relay.NewCollector(registry)

	opts := relay.Options{
		AccessKey:            cfg.Relay.AccessKey,
		PingInterval:         cfg.Relay.PingInterval,
		PongTimeout:          cfg.Relay.PongTimeout,
		WriteTimeout:         cfg.Relay.WriteTimeout,
		RateLimitEnabled:     cfg.Relay.RateLimit.Enabled,
		ConnectionsPerMinute: cfg.Relay.RateLimit.ConnectionsPerMinute,
		RateLimitBurst:       cfg.Relay.RateLimit.Burst,
	}
	server := relay.NewServer(opts, metrics, zapLogger)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Relay.Path, server.HandleWebSocket)
	mux.HandleFunc("/health", server.HealthCheck)
	if cfg.Monitoring.PrometheusEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	srv := &http.Server{
		Addr:    cfg.RelayListenAddress(),
		Handler: mux,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting relay server",
			"address", cfg.RelayListenAddress(),
			"path", cfg.Relay.Path,
			"access_key_set", cfg.Relay.AccessKey != "",
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("relay server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during relay shutdown", "error", err)
		srv.Close()
	}
	log.Info("relay server stopped")
}
