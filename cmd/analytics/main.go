// Command analytics starts the standalone analytics aggregation service.
//
// It consumes search events from the analytics topic and build events from
// the index-complete topic, aggregates them in memory (query counts, latency
// percentiles, cache hit rate, zero-result queries, last published
// generation) and serves them at GET /api/v1/analytics. With a SQL storage
// backend the stats are also snapshotted periodically and served at
// GET /api/v1/analytics/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
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

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("analytics service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("analytics service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	if !cfg.Kafka.Enabled {
		return errors.New("analytics service requires kafka.enabled")
	}

	// A separate group so every event reaches this service regardless of how
	// many search services share the main group.
	group := cfg.Kafka.ConsumerGroup + "-analytics"

	agg := analytics.NewAggregator()
	for _, topic := range []string{cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.IndexComplete} {
		c := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(agg), kafka.WithGroupID(group))
		go func() {
			if err := c.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "topic", topic, "error", err)
			}
		}()
	}
	slog.Info("analytics consumers started",
		"topics", []string{cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.IndexComplete},
		"group", group,
	)

	history, closeHistory, err := aggregator.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening analytics store: %w", err)
	}
	defer closeHistory()

	checker := health.NewChecker(2 * time.Second)
	checker.Register("kafka", health.Ping(func(ctx context.Context) error {
		return kafka.Ping(ctx, cfg.Kafka.Brokers)
	}))

	var analyticsHistory analytics.History
	if history != nil {
		saveCtx, cancelSave := context.WithCancel(ctx)
		saved := history.StartPeriodicSave(saveCtx, agg, cfg.Analytics.SnapshotInterval)
		defer func() {
			cancelSave()
			<-saved
		}()
		analyticsHistory = history
		if latest, err := history.LatestSnapshot(ctx); err == nil && latest != nil {
			slog.Info("previous analytics snapshot found", "total_searches", latest.TotalSearches)
		}
	}

	h := analytics.NewHandler(agg, analyticsHistory)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", h.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
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

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
