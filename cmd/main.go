/**
 * @description
 * Entry point for the card-ledger-service. It loads configuration, builds the
 * in-memory ledger engine and wires the optional collaborators around it: the
 * Postgres audit journal, the RabbitMQ publisher and ingest consumer, the Redis
 * rate limiter and the snapshot scheduler. Every collaborator is optional; the
 * ledger serves the dashboard with nothing but CREDIT_LIMIT configured.
 *
 * @dependencies
 * - github.com/joho/godotenv: loads a local .env before viper reads the environment.
 * - github.com/jackc/pgx/v5: audit journal connection pool.
 * - github.com/redis/go-redis/v9: distributed rate limiting.
 * - internal/api, internal/app, internal/config, internal/ledger, internal/store, pkg/rabbitmq.
 */

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/card-ledger-service/internal/api"
	"github.com/transfa/card-ledger-service/internal/app"
	"github.com/transfa/card-ledger-service/internal/config"
	"github.com/transfa/card-ledger-service/internal/ledger"
	"github.com/transfa/card-ledger-service/internal/store"
	"github.com/transfa/card-ledger-service/pkg/rabbitmq"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found; using process environment")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger.Info("starting card-ledger-service", "port", cfg.ServerPort, "credit_limit", cfg.CreditLimit.String())

	engine, err := ledger.NewEngine(cfg.CreditLimit, ledger.WithSettledDisplayLimit(cfg.SettledDisplayLimit))
	if err != nil {
		logger.Error("ledger init failed", "error", err)
		os.Exit(1)
	}

	var journal app.Journal = store.NopJournal{Logger: logger}
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		dbpool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Error("database connection failed", "error", err)
			os.Exit(1)
		}
		defer dbpool.Close()

		pgJournal := store.NewPostgresJournal(dbpool)
		schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 10*time.Second)
		err = pgJournal.EnsureSchema(schemaCtx)
		cancelSchema()
		if err != nil {
			logger.Error("journal schema setup failed", "error", err)
			os.Exit(1)
		}
		journal = pgJournal
		logger.Info("audit journal connected")
	} else {
		logger.Warn("DATABASE_URL not set; audit journal disabled")
	}

	var publisher app.EventPublisher = &rabbitmq.EventProducerFallback{Logger: logger}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("rabbitmq producer connected")
		}
	}

	var limiter api.RateLimiter
	if cfg.EventRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisURL) != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Warn("redis url parse failed; event rate limiting disabled", "error", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			pingErr := redisClient.Ping(pingCtx).Err()
			cancelPing()
			if pingErr != nil {
				logger.Warn("redis ping failed; event rate limiting disabled", "error", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				limiter = app.NewEventRateLimiter(redisClient, cfg.RedisRateLimitPrefix, cfg.EventRateLimitPerMinute)
				logger.Info("redis connected", "events_per_minute", cfg.EventRateLimitPerMinute)
			}
		}
	}

	ledgerService := app.NewService(engine, journal, publisher, cfg.LedgerExchange, logger)

	if strings.TrimSpace(cfg.RabbitMQURL) != "" && strings.TrimSpace(cfg.IngestQueue) != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Error("rabbitmq consumer init failed", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		ingest := app.NewEventConsumer(ledgerService, logger)
		if err := consumer.ConsumeWithBindings(cfg.LedgerExchange, cfg.IngestQueue, app.IngestBindings, ingest.HandleMessage); err != nil {
			logger.Error("ingest consumer start failed", "error", err)
			os.Exit(1)
		}
		logger.Info("ingesting card events", "queue", cfg.IngestQueue, "bindings", app.IngestBindings)
	}

	scheduler := app.NewScheduler(ledgerService, logger, cfg.SnapshotSchedule)
	if err := scheduler.Start(); err != nil {
		logger.Error("scheduler start failed", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(ledgerService, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.AllowedOrigins(),
		InternalAPIKey:  cfg.InternalAPIKey,
		OperatorJWKSURL: cfg.OperatorJWKSURL,
		Limiter:         limiter,
		Logger:          logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
