package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Nauflars/myshop-sub003/internal/application/capture"
	"github.com/Nauflars/myshop-sub003/internal/application/profile"
	"github.com/Nauflars/myshop-sub003/internal/config"
	"github.com/Nauflars/myshop-sub003/internal/embedding"
	openaiembed "github.com/Nauflars/myshop-sub003/internal/infrastructure/openai"
	"github.com/Nauflars/myshop-sub003/internal/infrastructure/postgres"
	"github.com/Nauflars/myshop-sub003/internal/infrastructure/rabbitmq"
	rediscache "github.com/Nauflars/myshop-sub003/internal/infrastructure/redis"
	"github.com/Nauflars/myshop-sub003/internal/pkg/logger"
	"github.com/Nauflars/myshop-sub003/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	if cfg.LogFormat != "" {
		_ = os.Setenv("LOG_FORMAT", cfg.LogFormat)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "profile-worker").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Postgres ----
	dbPool, err := postgres.NewPool(rootCtx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres pool create failed")
	}
	defer dbPool.Close()

	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()
		if err := dbPool.Ping(pingCtx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")
	}

	repo := postgres.New(dbPool)

	// ---- Redis (best-effort caches) ----
	cache := rediscache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB, cfg.QueryVectorTTL)
	{
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		defer cancel()
		if err := cache.Client.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis ping failed (continuing)")
		} else {
			log.Info().Msg("redis connected")
		}
	}

	// ---- Merge calculator ----
	calc, err := embedding.NewCalculator(cfg.VectorDim, cfg.DecayRate)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid calculator config")
	}

	// ---- External embedding service ----
	embedder := openaiembed.NewEmbedder(
		cfg.EmbeddingAPIKey,
		cfg.EmbeddingBaseURL,
		cfg.EmbeddingModel,
		cfg.VectorDim,
		cfg.EmbeddingTimeout,
		cfg.EmbeddingConcurrency,
	)

	// ---- Application service ----
	svc := profile.New(repo, repo, embedder, cache, calc, cfg.Weights, cfg.ConflictRetries, log)

	// ---- MQ consumer ----
	consumer, err := rabbitmq.NewConsumer(
		cfg.RabbitURL,
		cfg.RabbitExchange,
		cfg.WorkerPrefetch,
		cfg.MaxRetries,
		cfg.RetryBaseDelay,
		svc,
		log,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("consumer create failed")
	}
	defer consumer.Close()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(rootCtx)
	}()

	// ---- Audit redispatcher (requeues rows the publisher could not hand off) ----
	if cfg.RedispatchEnabled {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			log.Fatal().Err(err).Msg("publisher create failed")
		}
		defer pub.Close()

		capSvc := capture.New(repo, pub, log)
		go capSvc.RunRedispatcher(rootCtx, cfg.RedispatchInterval, cfg.RedispatchGrace)
		log.Info().Msg("redispatcher started")
	}

	// ---- Ops endpoints ----
	srv := &http.Server{
		Addr: cfg.HealthAddr,
		Handler: rest.NewRouter(map[string]rest.Pinger{
			"postgres": rest.PingerFunc(dbPool.Ping),
			"redis":    rest.PingerFunc(func(ctx context.Context) error { return cache.Client.Ping(ctx).Err() }),
			"rabbitmq": rest.PingerFunc(consumer.Ping),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HealthAddr).Msg("ops server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("ops server crashed")
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-consumerDone:
		if err != nil {
			log.Error().Err(err).Msg("consumer stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
