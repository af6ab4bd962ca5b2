package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openclaw/subbot-linker/internal/config"
	"github.com/openclaw/subbot-linker/internal/database"
	"github.com/openclaw/subbot-linker/internal/events"
	"github.com/openclaw/subbot-linker/internal/handler"
	"github.com/openclaw/subbot-linker/internal/jobs"
	"github.com/openclaw/subbot-linker/internal/linking"
	"github.com/openclaw/subbot-linker/internal/logging"
	"github.com/openclaw/subbot-linker/internal/middleware"
	"github.com/openclaw/subbot-linker/internal/observability"
	"github.com/openclaw/subbot-linker/internal/protocol/waclient"
	"github.com/openclaw/subbot-linker/internal/ratelimit"
	"github.com/openclaw/subbot-linker/internal/redis"
	"github.com/openclaw/subbot-linker/internal/repository"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the registry and the expiration sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	closer := logging.Setup(cfg.LogLevel, cfg.LogFile)
	defer closer.Close()

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		cancel()
		return err
	}
	cancel()
	log.Info().Msg("database connected")

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(promRegistry)

	var (
		relay   events.Relay
		limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter(config.CreateLimitWindow)
	)
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
		redisClient, err := redis.NewClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		defer redisClient.Close()
		log.Info().Msg("redis connected")

		relay = events.NewRedisRelay(redisClient)
		limiter = ratelimit.NewRedisLimiter(redisClient.Client, config.CreateLimitWindow, limiter)
	}

	factory, err := waclient.NewFactory(context.Background(), "postgres", cfg.DatabaseURL, cfg.DeviceDisplayName)
	if err != nil {
		return err
	}
	defer factory.Close()

	broadcaster := events.NewBroadcaster(relay, metrics)
	defer broadcaster.Close()

	sessionRepo := repository.NewSessionRepository(db.DB, cfg.EncryptionKey)
	registry := linking.NewRegistry(sessionRepo, factory, broadcaster, linking.OptionsFromConfig(cfg, metrics))

	restoreCtx, restoreCancel := context.WithTimeout(context.Background(), config.SweepTimeout)
	resumed, discarded, err := registry.Restore(restoreCtx)
	restoreCancel()
	if err != nil {
		return fmt.Errorf("failed to restore sessions: %w", err)
	}
	log.Info().Int("resumed", resumed).Int("discarded", discarded).Msg("sessions restored")

	sweeper := jobs.NewSweeper(registry, linking.SystemClock{}, cfg.SweepInterval())
	sweeper.Start()

	authMiddleware := middleware.NewTokenAuthMiddleware(cfg.APIToken)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)

	sessionHandler := handler.NewSessionHandler(registry, broadcaster, limiter, cfg.CreateLimitPerMin)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(metrics))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LimitBody(0))
	r.Use(securityHeadersMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(authMiddleware.Handler)
		r.Mount("/", sessionHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	sweeper.Stop()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("registry shutdown incomplete")
	}

	log.Info().Msg("server stopped")
	return nil
}
