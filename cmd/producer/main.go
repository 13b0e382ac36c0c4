// Command producer starts the submission HTTP service.
//
// The service accepts raw financial text via POST
// /api/v1/financial-data/submit, assigns it a request_id and publishes it to
// the RabbitMQ queue for the worker. It answers GET /health and GET /ready.
//
// Usage:
//
//	go run ./cmd/producer [-config configs/development.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/submission/handler"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/internal/submission/producer"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/Financial-Data-Pipeline/pkg/rabbitmq"
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
	slog.Info("starting producer service", "port", cfg.Server.Port)

	m := metrics.New(prometheus.DefaultRegisterer)

	// The broker connection is opened on the first publish, so the service
	// starts even while RabbitMQ is still coming up.
	broker := rabbitmq.NewClient(cfg.RabbitMQ, rabbitmq.WithOnConnect(func(reconnect bool) {
		if reconnect {
			m.BrokerReconnects.Inc()
		}
	}))
	defer broker.Close()

	checker := health.NewChecker()
	checker.Register("broker", health.PingCheck(broker, false))

	h := handler.New(producer.New(broker), m)
	mux := http.NewServeMux()
	h.Routes(mux)
	mux.Handle("GET /ready", checker.ReadyHandler())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      middleware.Metrics(m)(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, nil)
		defer shutdownMetrics(context.Background())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()
	slog.Info("producer service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("producer service stopped")
}
