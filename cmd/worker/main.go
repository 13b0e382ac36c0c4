// Command worker consumes queued submissions, extracts a structured financial
// record from each with the configured LLM, stores it in PostgreSQL and
// acknowledges the delivery according to the outcome.
//
// Usage:
//
//	go run ./cmd/worker [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/extraction"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/extraction/llm"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/storage"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/worker/attempts"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/worker/dispatcher"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/worker/pipeline"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/rabbitmq"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting worker",
		"queue", cfg.RabbitMQ.Queue,
		"model", cfg.Extraction.Model,
		"max_deliveries", cfg.Worker.MaxDeliveries,
	)
	m := metrics.New(prometheus.DefaultRegisterer)
	reconnect := resilience.RetryConfig{
		MaxAttempts:  cfg.Worker.ReconnectAttempts,
		InitialDelay: cfg.Worker.ReconnectDelay,
		MaxDelay:     30 * time.Second,
		Retryable:    apperrors.IsTransient,
	}

	var db *postgres.Client
	err := resilience.Retry(ctx, "postgres-connect", reconnect, func(ctx context.Context) error {
		var err error
		db, err = postgres.New(ctx, cfg.Postgres)
		return err
	})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer db.Close()
	store := storage.New(db)
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	slog.Info("connected to postgres", "database", cfg.Postgres.Database)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db, false))

	var opts []pipeline.Option
	opts = append(opts, pipeline.WithMetrics(m))
	if cfg.Redis.Enabled {
		rdb, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		checker.Register("redis", health.PingCheck(rdb, true))
		opts = append(opts, pipeline.WithTracker(attempts.NewTracker(rdb, cfg.Worker.MaxDeliveries, cfg.Redis.KeyTTL)))
		slog.Info("delivery tracking enabled", "addr", cfg.Redis.Addr)
	} else if cfg.Worker.MaxDeliveries > 0 {
		slog.Warn("worker.maxDeliveries is set but redis is disabled; redeliveries are unbounded")
	}
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		opts = append(opts, pipeline.WithNotifier(producer))
		slog.Info("kafka producer initialized", "topic", cfg.Kafka.Topic)
	}

	capability, err := llm.New(cfg.Extraction, m)
	if err != nil {
		return fmt.Errorf("creating extraction client: %w", err)
	}
	adapter := extraction.New(capability, extraction.Options{
		StrictValues: cfg.Extraction.StrictValues,
		OnParseWarning: func(field string) {
			m.ParseWarningsTotal.WithLabelValues(field).Inc()
		},
	})
	proc := pipeline.New(adapter, store, opts...)

	broker := rabbitmq.NewClient(cfg.RabbitMQ, rabbitmq.WithOnConnect(func(reconnect bool) {
		if reconnect {
			m.BrokerReconnects.Inc()
		}
	}))
	defer broker.Close()
	checker.Register("broker", health.PingCheck(broker, false))

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, checker.ReadyHandler())
		defer shutdownMetrics(context.Background())
	}

	d := dispatcher.New(proc.Process, m)
	for {
		var deliveries <-chan amqp.Delivery
		err := resilience.Retry(ctx, "broker-consume", reconnect, func(ctx context.Context) error {
			var err error
			deliveries, err = broker.Consume(ctx, cfg.Worker.ConsumerTag)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("consuming from %s: %w", cfg.RabbitMQ.Queue, err)
		}
		slog.Info("worker ready, waiting for messages", "queue", cfg.RabbitMQ.Queue)

		err = d.Run(ctx, deliveries)
		if err == nil {
			slog.Info("shutdown signal received, closing connections")
			return nil
		}
		slog.Warn("consume loop interrupted, reconnecting", "error", err)
	}
}
