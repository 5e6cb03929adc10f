package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tutorlink/internal/core/ports"
	"tutorlink/internal/core/services"
	httphandlers "tutorlink/internal/handlers/http"
	"tutorlink/internal/infrastructure/middleware"
	"tutorlink/internal/infrastructure/monitoring"
	"tutorlink/internal/infrastructure/repositories/memory"
	redisrepo "tutorlink/internal/infrastructure/repositories/redis"
	"tutorlink/pkg/config"
	"tutorlink/pkg/logger"
	"tutorlink/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	startTime := time.Now()

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

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "tutorlink-sessions",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  1.0,
	})
	if err != nil {
		log.Warnw("tracing initialization failed", "error", err)
	} else {
		defer tracerProvider.Shutdown(context.Background())
	}

	var sessionRepo ports.SessionRepository
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password,
			cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		defer redisrepo.CloseRedisClient(client)
		sessionRepo = redisrepo.NewRedisSessionRepository(client)
		log.Info("using Redis session repository")
	} else {
		sessionRepo = memory.NewMemorySessionRepository()
		log.Info("using in-memory session repository")
	}

	authService := services.NewAuthService(cfg.Sessions.JWTSecret, cfg.Sessions.TokenTTL)
	metrics := monitoring.NewPrometheusCollector()

	authHandler := httphandlers.NewAuthHandler(authService)
	sessionHandler := httphandlers.NewSessionHandler(sessionRepo, authService, metrics)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(metrics.Middleware())
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	authHandler.SetupRoutes(router)
	sessionHandler.SetupRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(startTime).String(),
		})
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:    cfg.Sessions.Address,
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting sessions server", "address", cfg.Sessions.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("sessions server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Sessions.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during sessions shutdown", "error", err)
		srv.Close()
	}
	log.Info("sessions server stopped")
}
