package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kjstillabower/weather-chart-service/internal/models"
)

var _ Cache = (*InMemoryCache)(nil)
var _ Cache = (*RedisCache)(nil)
var _ Cache = (*MemcachedCache)(nil)
var _ Cache = (*SQLiteCache)(nil)

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves
// them byte for byte.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := models.ForecastPayload(`{"hourly":{"time":[],"temperature_2m":[]}}`)
	if err := c.Set(ctx, "weather:berlin", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "weather:berlin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if string(got) != string(val) {
		t.Errorf("Get() = %s, want %s", got, val)
	}
}

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false when
// the requested key does not exist in cache.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	got, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok || got != nil {
		t.Errorf("Get() = (%v, %v), want (nil, false) for miss", got, ok)
	}
}

// TestInMemoryCache_Get_Expired verifies that Get returns ok=false for expired
// entries and removes them from cache on access.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "weather:berlin", models.ForecastPayload(`{}`), 900*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(899 * time.Second)
	if _, ok, _ := c.Get(ctx, "weather:berlin"); !ok {
		t.Fatal("Get() ok = false before expiry, want true")
	}

	now = now.Add(time.Second)
	_, ok, err := c.Get(ctx, "weather:berlin")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for expired entry")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want expired entry removed", c.Len())
	}
}

func TestInMemoryCache_Set_Overwrites(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	_ = c.Set(ctx, "k", models.ForecastPayload("first"), time.Minute)
	_ = c.Set(ctx, "k", models.ForecastPayload("second"), time.Minute)

	got, _, _ := c.Get(ctx, "k")
	if string(got) != "second" {
		t.Errorf("Get() = %s, want second", got)
	}
}

func TestInMemoryCache_ReturnsOwnedCopies(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := models.ForecastPayload("abc")
	_ = c.Set(ctx, "k", val, time.Minute)
	val[0] = 'X'

	got, _, _ := c.Get(ctx, "k")
	got[1] = 'Y'

	again, _, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("stored payload mutated: %s", again)
	}
}

func TestInMemoryCache_Set_InvalidTTL(t *testing.T) {
	c := NewInMemoryCache()
	if err := c.Set(context.Background(), "k", models.ForecastPayload("v"), 0); err == nil {
		t.Fatal("Set() with zero ttl error = nil, want error")
	}
}

func TestInMemoryCache_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewInMemoryCache()

	if _, _, err := c.Get(ctx, "k"); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v, want context.Canceled", err)
	}
	if err := c.Set(ctx, "k", models.ForecastPayload("v"), time.Minute); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() error = %v, want context.Canceled", err)
	}
}

func TestInMemoryCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				_ = c.Set(ctx, "weather:berlin", models.ForecastPayload("v"), time.Minute)
				_, _, _ = c.Get(ctx, "weather:berlin")
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	if _, ok, _ := c.Get(ctx, "weather:berlin"); !ok {
		t.Error("Get() ok = false after concurrent writes")
	}
}
