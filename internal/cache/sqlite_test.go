package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

func newMemorySQLiteCache(t *testing.T) *SQLiteCache {
	t.Helper()
	c, err := NewSQLiteCache(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestSQLiteCache_GetSet(t *testing.T) {
	c := newMemorySQLiteCache(t)
	ctx := context.Background()
	payload := models.ForecastPayload(`{"latitude":52.52,"longitude":13.41}`)

	require.NoError(t, c.Set(ctx, "weather:berlin", payload, 900*time.Second))

	got, ok, err := c.Get(ctx, "weather:berlin")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, string(payload), string(got))
}

func TestSQLiteCache_Miss(t *testing.T) {
	c := newMemorySQLiteCache(t)

	got, ok, err := c.Get(context.Background(), "weather:nowhere")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestSQLiteCache_ExpiryAndPurge(t *testing.T) {
	c := newMemorySQLiteCache(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "weather:berlin", models.ForecastPayload("{}"), 900*time.Second))
	require.NoError(t, c.Set(ctx, "weather:paris", models.ForecastPayload("{}"), time.Hour))

	now = now.Add(900 * time.Second)
	_, ok, err := c.Get(ctx, "weather:berlin")
	require.NoError(t, err)
	assert.False(t, ok, "entry at its expiry instant must be a miss")

	_, ok, err = c.Get(ctx, "weather:paris")
	require.NoError(t, err)
	assert.True(t, ok)

	purged, err := c.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestSQLiteCache_Overwrite(t *testing.T) {
	c := newMemorySQLiteCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", models.ForecastPayload("first"), time.Minute))
	require.NoError(t, c.Set(ctx, "k", models.ForecastPayload("second"), time.Minute))

	got, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestSQLiteCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	c, err := NewSQLiteCache(path)
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "weather:berlin", models.ForecastPayload("{}"), time.Hour))
	require.NoError(t, c.Close())

	reopened, err := NewSQLiteCache(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Get(ctx, "weather:berlin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteCache_ClosedIsUnavailable(t *testing.T) {
	c, err := NewSQLiteCache(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, _, err = c.Get(context.Background(), "k")
	require.ErrorIs(t, err, ErrCacheUnavailable)
	require.ErrorIs(t, c.Ping(context.Background()), ErrCacheUnavailable)
}
