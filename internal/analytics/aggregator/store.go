// Package aggregator persists periodic snapshots of aggregated analytics
// stats to PostgreSQL or SQLite.
package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/postgres"
)

const (
	postgresSchema = `CREATE TABLE IF NOT EXISTS ngs_analytics_snapshots (
	id          BIGSERIAL   PRIMARY KEY,
	data        JSONB       NOT NULL,
	captured_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
	sqliteSchema = `CREATE TABLE IF NOT EXISTS ngs_analytics_snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	data        TEXT    NOT NULL,
	captured_at TIMESTAMP NOT NULL
)`
)

// Store persists aggregated analytics snapshots.
type Store struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewStore creates the snapshot table if needed. driver is "postgres" or
// "sqlite"; it selects the DDL and placeholder style.
func NewStore(ctx context.Context, db *sql.DB, driver string) (*Store, error) {
	var err error
	switch driver {
	case "postgres":
		err = postgres.Migrate(ctx, db, "ngs_analytics_snapshots", postgresSchema)
	case "sqlite":
		_, err = db.ExecContext(ctx, sqliteSchema)
	default:
		return nil, fmt.Errorf("unsupported analytics store driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("creating analytics snapshot table: %w", err)
	}
	return &Store{
		db:     db,
		driver: driver,
		logger: slog.Default().With("component", "analytics-store"),
	}, nil
}

func (s *Store) placeholders(n int) []string {
	out := make([]string, n)
	for i := range out {
		if s.driver == "postgres" {
			out[i] = fmt.Sprintf("$%d", i+1)
		} else {
			out[i] = "?"
		}
	}
	return out
}

// SaveSnapshot persists a stats snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, stats analytics.AggregatedStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshaling stats: %w", err)
	}
	p := s.placeholders(2)
	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO ngs_analytics_snapshots (data, captured_at) VALUES (%s, %s)`, p[0], p[1]),
		string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving analytics snapshot: %w", err)
	}

	s.logger.Info("analytics snapshot saved",
		"total_searches", stats.TotalSearches,
		"builds", stats.Builds,
	)
	return nil
}

// LatestSnapshot loads the most recent snapshot. It returns nil, nil when
// none has been saved yet.
func (s *Store) LatestSnapshot(ctx context.Context) (*analytics.AggregatedStats, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM ngs_analytics_snapshots ORDER BY id DESC LIMIT 1`,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest snapshot: %w", err)
	}

	var stats analytics.AggregatedStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("unmarshaling snapshot: %w", err)
	}
	return &stats, nil
}

// ListSnapshots returns the last limit snapshots, newest first. Rows that
// fail to decode are skipped.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]analytics.AggregatedStats, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT data FROM ngs_analytics_snapshots ORDER BY id DESC LIMIT %s`, s.placeholders(1)[0]),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []analytics.AggregatedStats
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		var stats analytics.AggregatedStats
		if err := json.Unmarshal(data, &stats); err != nil {
			s.logger.Warn("skipping corrupt snapshot", "error", err)
			continue
		}
		snapshots = append(snapshots, stats)
	}

	return snapshots, rows.Err()
}

// StartPeriodicSave snapshots agg every interval until ctx is cancelled, then
// writes one final snapshot. The returned channel closes once the final
// snapshot has been attempted.
func (s *Store) StartPeriodicSave(ctx context.Context, agg *analytics.Aggregator, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if err := s.SaveSnapshot(ctx, agg.Stats()); err != nil {
					s.logger.Error("periodic snapshot failed", "error", err)
				}
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := s.SaveSnapshot(shutdownCtx, agg.Stats()); err != nil {
					s.logger.Error("final snapshot failed", "error", err)
				}
				return
			}
		}
	}()
	s.logger.Info("periodic snapshot started", "interval", interval)
	return done
}

// Open connects a Store to the SQL backend selected by cfg.Storage.Backend.
// It returns a nil Store for the memory and Redis backends, which have no
// place to keep history. The returned close function releases the
// connection.
func Open(ctx context.Context, cfg *config.Config) (*Store, func() error, error) {
	var (
		db     *sql.DB
		driver string
	)
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, nil, err
		}
		db, driver = client.DB, "postgres"
	case config.BackendSQLite:
		dsn := cfg.SQLite.Path
		if dsn == "" {
			dsn = ":memory:"
		}
		var err error
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("setting busy_timeout: %w", err)
		}
		driver = "sqlite"
	default:
		return nil, func() error { return nil }, nil
	}

	s, err := NewStore(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return s, db.Close, nil
}
