package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
upstream:
  timeout: "5s"
request:
  timeout: "15s"
cache:
  backend: in_memory
reliability:
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// envVars lists every variable Load reads; tests clear them so the host environment cannot leak in.
var envVars = []string{
	"ENV_NAME", "PORT", "CACHE_BACKEND", "REDIS_URL", "MEMCACHED_ADDRS",
	"SQLITE_PATH", "GOOGLE_MAPS_API_KEY", "KAFKA_BROKERS",
}

// setupProject writes config/dev.yaml (and optionally .env) to a temp dir and chdirs into it.
func setupProject(t *testing.T, configYAML, dotenv string) {
	t.Helper()
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, configYAML)
	if dotenv != "" {
		if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0644); err != nil {
			t.Fatalf("write .env: %v", err)
		}
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

// clearEnv unsets envVars for the test; t.Setenv restores them afterwards.
// Unset rather than empty, since godotenv never overrides a variable that exists.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envVars {
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setupProject(t, minimalEnvYAML, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GeocodingURL != "https://geocoding-api.open-meteo.com/v1/search" {
		t.Errorf("GeocodingURL = %q", cfg.GeocodingURL)
	}
	if cfg.ForecastURL != "https://api.open-meteo.com/v1/forecast" {
		t.Errorf("ForecastURL = %q", cfg.ForecastURL)
	}
	if cfg.Timezone != "auto" {
		t.Errorf("Timezone = %q, want auto", cfg.Timezone)
	}
	if cfg.GeocoderProvider != "open_meteo" {
		t.Errorf("GeocoderProvider = %q, want open_meteo", cfg.GeocoderProvider)
	}
	if cfg.CoalesceEnabled {
		t.Error("CoalesceEnabled = true, want false by default")
	}
	if cfg.CircuitBreakerFailures != 5 || cfg.CircuitBreakerHalfOpen != 2 || cfg.CircuitBreakerTimeout != 30*time.Second {
		t.Errorf("circuit breaker defaults = %d/%d/%v", cfg.CircuitBreakerFailures, cfg.CircuitBreakerHalfOpen, cfg.CircuitBreakerTimeout)
	}
	if cfg.KafkaTopic != "forecast-fetched" {
		t.Errorf("KafkaTopic = %q", cfg.KafkaTopic)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want none", cfg.KafkaBrokers)
	}
	if cfg.DegradedErrorPct != 5 || cfg.DegradedWindow != time.Minute {
		t.Errorf("degraded defaults = %d%% / %v", cfg.DegradedErrorPct, cfg.DegradedWindow)
	}
}

func TestLoad_DefaultBackendIsRedis(t *testing.T) {
	setupProject(t, "server:\n  port: \"8080\"\n", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheBackend != "redis" {
		t.Errorf("CacheBackend = %q, want redis", cfg.CacheBackend)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	setupProject(t, minimalEnvYAML, "")
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing config file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	setupProject(t, "server: [unclosed\n", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Fatalf("Load() error = %v, want parse config file error", err)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	setupProject(t, `
upstream:
  timeout: ""
cache:
  backend: in_memory
shutdown:
  timeout: ""
`, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 5s", cfg.UpstreamTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setupProject(t, `
cache:
  backend: in_memory
coalesce:
  timeout: "soon"
warming:
  interval: "-5m"
`, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CoalesceTimeout != 10*time.Second {
		t.Errorf("CoalesceTimeout = %v, want 10s", cfg.CoalesceTimeout)
	}
	if cfg.WarmingInterval != 10*time.Minute {
		t.Errorf("WarmingInterval = %v, want 10m", cfg.WarmingInterval)
	}
}

func TestLoad_ValidationFailsWhenUpstreamTimeoutZero(t *testing.T) {
	setupProject(t, `
upstream:
  timeout: "0s"
cache:
  backend: in_memory
`, "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "UpstreamTimeout") {
		t.Fatalf("Load() error = %v, want UpstreamTimeout validation error", err)
	}
}

func TestLoad_RequestTimeoutCoversBothUpstreamCalls(t *testing.T) {
	setupProject(t, `
upstream:
  timeout: "4s"
request:
  timeout: "5s"
cache:
  backend: in_memory
`, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 9*time.Second {
		t.Errorf("RequestTimeout = %v, want 9s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidBackend(t *testing.T) {
	setupProject(t, "cache:\n  backend: dynamo\n", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CacheBackend") {
		t.Fatalf("Load() error = %v, want CacheBackend validation error", err)
	}
}

func TestLoad_GoogleProviderRequiresKey(t *testing.T) {
	setupProject(t, "geocoder:\n  provider: google\ncache:\n  backend: in_memory\n", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "GoogleMapsAPIKey") {
		t.Fatalf("Load() error = %v, want GoogleMapsAPIKey validation error", err)
	}

	t.Setenv("GOOGLE_MAPS_API_KEY", "AIzaTestKey")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() with key error = %v", err)
	}
	if cfg.GoogleMapsAPIKey != "AIzaTestKey" {
		t.Errorf("GoogleMapsAPIKey = %q", cfg.GoogleMapsAPIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setupProject(t, minimalEnvYAML, "")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/forecasts.db")
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "9090" {
		t.Errorf("ServerPort = %q, want 9090", cfg.ServerPort)
	}
	if cfg.CacheBackend != "sqlite" || cfg.SQLitePath != "/tmp/forecasts.db" {
		t.Errorf("sqlite backend = %q %q", cfg.CacheBackend, cfg.SQLitePath)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	setupProject(t, minimalEnvYAML, "PORT=7070\nKAFKA_BROKERS=broker:9092\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ServerPort != "7070" {
		t.Errorf("ServerPort = %q, want 7070 from .env", cfg.ServerPort)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "broker:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoad_TrackedCitiesAndCoalescing(t *testing.T) {
	setupProject(t, `
cache:
  backend: in_memory
coalesce:
  enabled: true
  timeout: "3s"
warming:
  tracked_cities: ["Berlin", "Paris"]
  interval: "5m"
`, "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.CoalesceEnabled || cfg.CoalesceTimeout != 3*time.Second {
		t.Errorf("coalesce = %v %v", cfg.CoalesceEnabled, cfg.CoalesceTimeout)
	}
	if len(cfg.TrackedCities) != 2 || cfg.WarmingInterval != 5*time.Minute {
		t.Errorf("warming = %v every %v", cfg.TrackedCities, cfg.WarmingInterval)
	}
}

func TestLoad_ProjectConfigIsValid(t *testing.T) {
	root := findProjectRoot(t)
	clearEnv(t)
	origWd, _ := os.Getwd()
	if err := os.Chdir(root); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	if _, err := Load(); err != nil {
		t.Fatalf("Load() of config/dev.yaml error = %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
