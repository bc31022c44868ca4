// Command ingestion starts the corpus ingestion HTTP service.
//
// The service accepts whole corpora via POST /api/v1/corpus, validates them
// and queues each one on the corpus-update Kafka topic. Every search service
// consuming that topic rebuilds its index from the queued corpus.
//
// Usage:
//
//	go run ./cmd/ingestion [-config configs/development.yaml]
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
	"time"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion/handler"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/ingestion/publisher"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/ratelimit"
)

const idempotencyTTL = 24 * time.Hour

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	if !cfg.Kafka.Enabled {
		slog.Error("ingestion service requires kafka.enabled")
		os.Exit(1)
	}
	slog.Info("starting ingestion service", "port", cfg.Server.Port, "topic", cfg.Kafka.Topics.CorpusUpdate)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CorpusUpdate)
	defer producer.Close()
	h := handler.New(publisher.New(producer, idempotencyTTL))

	checker := health.NewChecker(2 * time.Second)
	checker.Register("kafka", health.Ping(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/corpus", h.Ingest)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RateLimit(ratelimit.FromConfig(cfg.Server))(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
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

	slog.Info("ingestion service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingestion service stopped")
}
