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

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics/aggregator"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/store"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/ratelimit"
	pkgredis "github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/resilience"
)

const localCacheSize = 4096

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	corpusPath := flag.String("corpus", "", "corpus file to index at startup (overrides corpus.path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *corpusPath != "" {
		cfg.Corpus.Path = *corpusPath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"storage", cfg.Storage.Backend,
		"kafka", cfg.Kafka.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("search service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	var provider store.Provider
	err := resilience.Retry(ctx, "open store", resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 500 * time.Millisecond}, func() error {
		var err error
		provider, err = store.NewProvider(ctx, cfg)
		return err
	})
	if err != nil {
		return err
	}
	defer provider.Close()
	slog.Info("store opened", "backend", provider.Name())

	if cfg.Indexer.InstanceID == "" {
		cfg.Indexer.InstanceID = instanceName()
	}
	engine := indexer.NewEngine(provider, cfg.Indexer, indexer.WithMetrics(m))
	slog.Info("indexer instance", "id", engine.InstanceID())
	exec := executor.New(engine, cfg.Search, m)

	queryCache, redisClient := newQueryCache(cfg, m, engine.Generation)
	if redisClient != nil {
		defer redisClient.Close()
	}
	engine.OnBuild(func(ctx context.Context, stats indexer.BuildStats) {
		if err := queryCache.Invalidate(ctx); err != nil {
			slog.Warn("cache invalidation after build failed", "generation", stats.Generation, "error", err)
		}
	})

	agg := analytics.NewAggregator()
	var (
		analyticsPub kafka.Publisher
		indexPub     kafka.Publisher
		sinks        []analytics.Sink
		buildSink    analytics.Sink
	)
	if cfg.Kafka.Enabled {
		analyticsPub = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.AnalyticsEvents)
		indexPub = kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer analyticsPub.Close()
		defer indexPub.Close()
		startConsumers(ctx, cfg, engine, agg)
	} else {
		sinks = append(sinks, agg)
		buildSink = agg
	}
	engine.OnBuild(consumer.Announce(indexPub, buildSink))

	var tracker handler.Tracker
	if cfg.Analytics.Enabled {
		collector := analytics.NewCollector(analyticsPub,
			cfg.Analytics.BufferSize,
			cfg.Analytics.BatchSize,
			cfg.Analytics.FlushInterval,
			m,
			sinks...,
		)
		collector.Start(ctx)
		defer collector.Close()
		tracker = collector
	}

	history, closeHistory, err := aggregator.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening analytics store: %w", err)
	}
	defer closeHistory()
	var analyticsHistory analytics.History
	if history != nil {
		saveCtx, cancelSave := context.WithCancel(ctx)
		saved := history.StartPeriodicSave(saveCtx, agg, cfg.Analytics.SnapshotInterval)
		defer func() {
			cancelSave()
			<-saved
		}()
		analyticsHistory = history
	}

	if err := loadInitialIndex(ctx, cfg, engine); err != nil {
		return err
	}

	checker := health.NewChecker(2 * time.Second)
	checker.Register("index", func(context.Context) health.ComponentHealth {
		stats, ok := engine.Stats()
		if !ok {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no generation published"}
		}
		return health.ComponentHealth{
			Status:  health.StatusUp,
			Message: fmt.Sprintf("generation %d, %d documents, %d terms", stats.Generation, stats.Documents, stats.Terms),
		}
	})
	checker.Register("store", health.Ping(provider.Ping))
	if redisClient != nil {
		checker.RegisterOptional("cache", health.Ping(redisClient.Ping))
	}
	if cfg.Kafka.Enabled {
		checker.RegisterOptional("kafka", health.Ping(func(ctx context.Context) error {
			return kafka.Ping(ctx, cfg.Kafka.Brokers)
		}))
	}

	h := handler.New(exec, engine, queryCache, tracker, m)
	analyticsH := analytics.NewHandler(agg, analyticsHistory)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /api/v1/analytics/history", analyticsH.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Metrics(m)(chain)
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(ratelimit.FromConfig(cfg.Server))(chain)
	chain = middleware.CORS(cfg.Server.CORSOrigins)(chain)
	chain = middleware.Logging(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           chain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout + time.Second,
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newQueryCache uses Redis when cfg.Redis.CacheEnabled and it is reachable,
// and an in-process LRU otherwise.
func newQueryCache(cfg *config.Config, m *metrics.Metrics, generation func() uint64) (*cache.QueryCache, *pkgredis.Client) {
	if cfg.Redis.CacheEnabled {
		client, err := pkgredis.NewClient(cfg.Redis)
		if err == nil {
			slog.Info("search cache enabled", "backend", "redis", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
			return cache.New(cache.NewRedisBackend(client), cfg.Redis.CacheTTL, m, cache.WithGeneration(generation)), client
		}
		slog.Warn("redis unavailable, using local search cache", "error", err)
	}
	slog.Info("search cache enabled", "backend", "local", "size", localCacheSize, "ttl", cfg.Redis.CacheTTL)
	return cache.New(cache.NewLocalBackend(localCacheSize, cfg.Redis.CacheTTL), cfg.Redis.CacheTTL, m,
		cache.WithGeneration(generation)), nil
}

// startConsumers rebuilds on corpus updates and feeds the aggregator from the
// analytics and index-complete topics. Each replica joins a group of its own
// so every replica rebuilds and sees every event.
func startConsumers(ctx context.Context, cfg *config.Config, engine *indexer.Engine, agg *analytics.Aggregator) {
	group := instanceGroup(cfg.Kafka.ConsumerGroup)
	corpusConsumer := consumer.New(kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.CorpusUpdate,
		consumer.HandleMessage(engine), kafka.WithGroupID(group)))
	go func() {
		if err := corpusConsumer.Start(ctx); err != nil {
			slog.Error("corpus consumer error", "error", err)
		}
	}()
	for _, topic := range []string{cfg.Kafka.Topics.AnalyticsEvents, cfg.Kafka.Topics.IndexComplete} {
		c := kafka.NewConsumer(cfg.Kafka, topic, analytics.HandleEvent(agg), kafka.WithGroupID(group))
		go func() {
			if err := c.Start(ctx); err != nil {
				slog.Error("analytics consumer error", "topic", topic, "error", err)
			}
		}()
	}
	slog.Info("kafka consumers started", "group", group)
}

func instanceGroup(base string) string {
	return base + "-" + instanceName()
}

// instanceName is stable across restarts of the same replica so orphaned
// generations can be reclaimed on startup.
func instanceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return uuid.NewString()
	}
	return host
}

// loadInitialIndex restores the newest snapshot when configured, and
// otherwise builds from the corpus file if one is set. With neither, the
// service starts unready until a corpus arrives over HTTP or Kafka.
func loadInitialIndex(ctx context.Context, cfg *config.Config, engine *indexer.Engine) error {
	if cfg.Indexer.LoadSnapshot {
		stats, ok, err := engine.LoadSnapshot(ctx)
		if err != nil {
			slog.Warn("loading snapshot failed", "error", err)
		}
		if ok {
			slog.Info("index restored from snapshot", "generation", stats.Generation, "documents", stats.Documents)
			return nil
		}
	}
	if cfg.Corpus.Path == "" {
		slog.Warn("no corpus configured, waiting for a rebuild request")
		return nil
	}
	docs, err := corpus.Load(cfg.Corpus.Path)
	if err != nil {
		return err
	}
	if _, err := engine.BuildFrom(ctx, cfg.Corpus.Path, docs); err != nil {
		return fmt.Errorf("building initial index: %w", err)
	}
	return nil
}
