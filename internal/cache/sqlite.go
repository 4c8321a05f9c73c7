package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS forecast_cache (
		cache_key TEXT NOT NULL PRIMARY KEY,
		payload BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS forecast_cache_expires_at ON forecast_cache (expires_at)`,
}

// SQLiteCache implements Cache on a local SQLite file. expires_at holds unix
// nanoseconds; Get ignores expired rows and PurgeExpired deletes them.
type SQLiteCache struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteCache opens (or creates) the database at path. ":memory:" gives a
// private in-process database.
func NewSQLiteCache(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// Each connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate cache db: %w", err)
		}
	}
	return &SQLiteCache{db: db, now: time.Now}, nil
}

func (c *SQLiteCache) Get(ctx context.Context, key string) (models.ForecastPayload, bool, error) {
	var payload []byte
	err := c.db.QueryRowContext(ctx,
		`SELECT payload FROM forecast_cache WHERE cache_key = ? AND expires_at > ?`,
		key, c.now().UnixNano(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: sqlite get %q: %w", ErrCacheUnavailable, key, err)
	}
	return models.ForecastPayload(payload), true, nil
}

func (c *SQLiteCache) Set(ctx context.Context, key string, value models.ForecastPayload, ttl time.Duration) error {
	if err := validateTTL(ttl); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO forecast_cache (cache_key, payload, expires_at) VALUES (?, ?, ?)`,
		key, []byte(value), c.now().Add(ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: sqlite set %q: %w", ErrCacheUnavailable, key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM forecast_cache WHERE expires_at <= ?`, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("%w: sqlite purge: %w", ErrCacheUnavailable, err)
	}
	return res.RowsAffected()
}

func (c *SQLiteCache) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: sqlite ping: %w", ErrCacheUnavailable, err)
	}
	return nil
}

// Close releases the database connection.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
