// Package config loads and validates application configuration from YAML or
// TOML files with environment-variable overrides. It provides typed structs
// for every subsystem (Server, Storage, Postgres, Redis, SQLite, Kafka,
// Indexer, Search, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Storage backends understood by store.NewProvider.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Storage   StorageConfig   `yaml:"storage" toml:"storage"`
	Postgres  PostgresConfig  `yaml:"postgres" toml:"postgres"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	SQLite    SQLiteConfig    `yaml:"sqlite" toml:"sqlite"`
	Kafka     KafkaConfig     `yaml:"kafka" toml:"kafka"`
	Indexer   IndexerConfig   `yaml:"indexer" toml:"indexer"`
	Search    SearchConfig    `yaml:"search" toml:"search"`
	Analytics AnalyticsConfig `yaml:"analytics" toml:"analytics"`
	Corpus    CorpusConfig    `yaml:"corpus" toml:"corpus"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" toml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	// RateLimit caps requests per client address within RateWindow. Zero
	// disables limiting.
	RateLimit  int           `yaml:"rateLimit" toml:"rateLimit"`
	RateWindow time.Duration `yaml:"rateWindow" toml:"rateWindow"`
	// CORSOrigins lists the origins allowed cross-origin access; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins" toml:"corsOrigins"`
}

// StorageConfig selects the document/term store backend. Namespace prefixes
// every key or table row so several indexes can share one server.
type StorageConfig struct {
	Backend   string `yaml:"backend" toml:"backend"`
	Namespace string `yaml:"namespace" toml:"namespace"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host" toml:"host"`
	Port            int           `yaml:"port" toml:"port"`
	Database        string        `yaml:"database" toml:"database"`
	User            string        `yaml:"user" toml:"user"`
	Password        string        `yaml:"password" toml:"password"`
	SSLMode         string        `yaml:"sslMode" toml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr" toml:"addr"`
	Password string        `yaml:"password" toml:"password"`
	DB       int           `yaml:"db" toml:"db"`
	PoolSize int           `yaml:"poolSize" toml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL" toml:"cacheTTL"`
	// CacheEnabled turns on the Redis query-result cache independently of
	// the storage backend.
	CacheEnabled bool `yaml:"cacheEnabled" toml:"cacheEnabled"`
}

// SQLiteConfig points at the database file. An empty path opens an
// in-memory database.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled" toml:"enabled"`
	Brokers       []string    `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics" toml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	CorpusUpdate    string `yaml:"corpusUpdate" toml:"corpusUpdate"`
	IndexComplete   string `yaml:"indexComplete" toml:"indexComplete"`
	AnalyticsEvents string `yaml:"analyticsEvents" toml:"analyticsEvents"`
}

// IndexerConfig controls snapshot persistence of the built index.
type IndexerConfig struct {
	DataDir         string `yaml:"dataDir" toml:"dataDir"`
	SnapshotOnBuild bool   `yaml:"snapshotOnBuild" toml:"snapshotOnBuild"`
	LoadSnapshot    bool   `yaml:"loadSnapshot" toml:"loadSnapshot"`
	KeepSnapshots   int    `yaml:"keepSnapshots" toml:"keepSnapshots"`
	BatchSize       int    `yaml:"batchSize" toml:"batchSize"`
	// InstanceID prefixes generation namespaces. Replicas sharing a store
	// need distinct, restart-stable ids; empty picks a random one.
	InstanceID string `yaml:"instanceID" toml:"instanceID"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults           int           `yaml:"maxResults" toml:"maxResults"`
	DefaultLimit         int           `yaml:"defaultLimit" toml:"defaultLimit"`
	QueryTimeout         time.Duration `yaml:"queryTimeout" toml:"queryTimeout"`
	MaxConcurrentQueries int           `yaml:"maxConcurrentQueries" toml:"maxConcurrentQueries"`
	DocCacheSize         int           `yaml:"docCacheSize" toml:"docCacheSize"`
}

// AnalyticsConfig controls search event collection and the periodic
// persistence of aggregated stats.
type AnalyticsConfig struct {
	Enabled          bool          `yaml:"enabled" toml:"enabled"`
	BufferSize       int           `yaml:"bufferSize" toml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize" toml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval" toml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval" toml:"snapshotInterval"`
}

// CorpusConfig names a file (one document per line, or a JSON array of
// strings) indexed at startup.
type CorpusConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML config file (if provided) and applies
// environment-variable overrides. The format is chosen by file extension;
// anything other than .toml is parsed as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateWindow <= 0 {
		return fmt.Errorf("server.rateWindow must be positive when rate limiting is enabled")
	}
	if c.Search.DefaultLimit < 0 || c.Search.MaxResults < 0 {
		return fmt.Errorf("search limits must not be negative")
	}
	if c.Search.MaxResults > 0 && c.Search.DefaultLimit > c.Search.MaxResults {
		return fmt.Errorf("search.defaultLimit %d exceeds search.maxResults %d",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	return nil
}

// Default returns a Config with defaults for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
		},
		Storage: StorageConfig{
			Backend:   BackendMemory,
			Namespace: "ngs",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ngramsearch",
			User:            "ngramsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "data/ngramsearch.db",
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "ngramsearch-group",
			Topics: KafkaTopics{
				CorpusUpdate:    "corpus-update",
				IndexComplete:   "index.complete",
				AnalyticsEvents: "analytics-events",
			},
		},
		Indexer: IndexerConfig{
			DataDir:       "data/index",
			KeepSnapshots: 3,
			BatchSize:     256,
		},
		Search: SearchConfig{
			MaxResults:           100,
			DefaultLimit:         0,
			QueryTimeout:         5 * time.Second,
			MaxConcurrentQueries: 8,
			DocCacheSize:         1024,
		},
		Analytics: AnalyticsConfig{
			Enabled:          true,
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads NGS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NGS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("NGS_SERVER_RATE_LIMIT"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = limit
		}
	}
	if v := os.Getenv("NGS_SERVER_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("NGS_STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("NGS_STORAGE_NAMESPACE"); v != "" {
		cfg.Storage.Namespace = v
	}
	if v := os.Getenv("NGS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("NGS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("NGS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("NGS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("NGS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("NGS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("NGS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("NGS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("NGS_REDIS_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.CacheEnabled = enabled
		}
	}
	if v := os.Getenv("NGS_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("NGS_KAFKA_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = enabled
		}
	}
	if v := os.Getenv("NGS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("NGS_INDEXER_DATA_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("NGS_INDEXER_INSTANCE_ID"); v != "" {
		cfg.Indexer.InstanceID = v
	}
	if v := os.Getenv("NGS_ANALYTICS_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Analytics.Enabled = enabled
		}
	}
	if v := os.Getenv("NGS_CORPUS_PATH"); v != "" {
		cfg.Corpus.Path = v
	}
	if v := os.Getenv("NGS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("NGS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
