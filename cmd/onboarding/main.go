package main

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/antoniostano/onboarding/internal/agent"
	"github.com/antoniostano/onboarding/internal/config"
	"github.com/antoniostano/onboarding/internal/httpapi"
	"github.com/antoniostano/onboarding/internal/intent"
	"github.com/antoniostano/onboarding/internal/memory"
	"github.com/antoniostano/onboarding/internal/observability"
	"github.com/antoniostano/onboarding/internal/profile"
	"github.com/antoniostano/onboarding/internal/session"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("dotenv_load_failed")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	log.Logger = logger

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	conversationLog, err := memory.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("conversation log init failed")
	}
	defer conversationLog.Close()

	classifier, err := intent.New(intent.Config{
		Mode:    cfg.IntentMode,
		HTTPURL: cfg.IntentHTTPURL,
		Static:  intent.ParseIntent(cfg.IntentStatic),
		Timeout: cfg.IntentTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("intent classifier init failed")
	}
	guarded := intent.NewGuard(classifier, cfg.IntentTimeout,
		intent.WithLogger(logger),
		intent.WithFailureHook(func(reason string) {
			metrics.ClassifierFailures.WithLabelValues(reason).Inc()
		}),
		intent.WithLatencyHook(metrics.ObserveClassifierLatency),
	)

	sessions := session.NewStore()
	sessions.SetCreateHook(func(_ session.Memory) {
		metrics.KnownUsers.Set(float64(sessions.Count()))
	})

	opts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithMetrics(metrics),
	}
	if cfg.UserDirectoryURL != "" {
		dir := profile.NewCachedDirectory(profile.NewHTTPDirectory(cfg.UserDirectoryURL, 0), cfg.UserDirectoryCacheTTL)
		opts = append(opts, agent.WithDirectory(dir))
	}
	onboarding := agent.New(sessions, guarded, conversationLog, opts...)

	api := httpapi.New(cfg, onboarding, sessions, conversationLog, metrics, logger)
	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().
			Str("addr", cfg.BindAddr).
			Str("intent_mode", cfg.IntentMode).
			Bool("postgres", cfg.DatabaseURL != "").
			Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("listen error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	logger.Info().Msg("shutdown complete")
}
