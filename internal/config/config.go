package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	GeocodingURL    string        `validate:"required,url"`
	ForecastURL     string        `validate:"required,url"`
	UpstreamTimeout time.Duration `validate:"gt=0"`
	Timezone        string        `validate:"required"`

	GeocoderProvider string `validate:"oneof=open_meteo google"`
	GoogleMapsAPIKey string `validate:"required_if=GeocoderProvider google"`
	GoogleRateLimit  int    `validate:"gte=0"`

	RequestTimeout time.Duration `validate:"gt=0"`

	CacheBackend          string `validate:"oneof=redis memcached sqlite in_memory"`
	RedisURL              string `validate:"required_if=CacheBackend redis"`
	RedisPoolSize         int    `validate:"gte=0"`
	MemcachedAddrs        string `validate:"required_if=CacheBackend memcached"`
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int    `validate:"gte=0"`
	SQLitePath            string `validate:"required_if=CacheBackend sqlite"`
	SQLitePurgeInterval   time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	CircuitBreakerEnabled  bool
	CircuitBreakerFailures int `validate:"gte=1"`
	CircuitBreakerTimeout  time.Duration
	CircuitBreakerHalfOpen int `validate:"gte=1"`

	RateLimitRPS   int `validate:"gte=0"`
	RateLimitBurst int `validate:"gte=0"`

	ShutdownTimeout time.Duration `validate:"gt=0"`
	InFlightTimeout time.Duration `validate:"gt=0"`

	TrackedCities   []string `validate:"dive,required"`
	WarmingInterval time.Duration

	KafkaBrokers []string `validate:"dive,hostname_port"`
	KafkaTopic   string

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Upstream struct {
		GeocodingURL string `yaml:"geocoding_url"`
		ForecastURL  string `yaml:"forecast_url"`
		Timeout      string `yaml:"timeout"`
		Timezone     string `yaml:"timezone"`
	} `yaml:"upstream"`

	Geocoder struct {
		Provider        string `yaml:"provider"`
		GoogleRateLimit int    `yaml:"google_rate_limit"`
	} `yaml:"geocoder"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend string `yaml:"backend"`
		Redis   struct {
			URL      string `yaml:"url"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"redis"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		SQLite struct {
			Path          string `yaml:"path"`
			PurgeInterval string `yaml:"purge_interval"`
		} `yaml:"sqlite"`
	} `yaml:"cache"`

	Coalesce struct {
		Enabled bool   `yaml:"enabled"`
		Timeout string `yaml:"timeout"`
	} `yaml:"coalesce"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		Timeout          string `yaml:"timeout"`
		MaxHalfOpen      int    `yaml:"max_half_open"`
	} `yaml:"circuit_breaker"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout         string `yaml:"timeout"`
		InFlightTimeout string `yaml:"inflight_timeout"`
	} `yaml:"shutdown"`

	Warming struct {
		TrackedCities []string `yaml:"tracked_cities"`
		Interval      string   `yaml:"interval"`
	} `yaml:"warming"`

	Events struct {
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"events"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative to the
// working directory. An optional .env file there is loaded first; variables already
// set in the environment win. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = orDefault(fc.Server.Port, "8080")

	cfg.GeocodingURL = orDefault(fc.Upstream.GeocodingURL, "https://geocoding-api.open-meteo.com/v1/search")
	cfg.ForecastURL = orDefault(fc.Upstream.ForecastURL, "https://api.open-meteo.com/v1/forecast")
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 5*time.Second)
	cfg.Timezone = orDefault(fc.Upstream.Timezone, "auto")

	cfg.GeocoderProvider = strings.ToLower(orDefault(fc.Geocoder.Provider, "open_meteo"))
	cfg.GoogleRateLimit = fc.Geocoder.GoogleRateLimit

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.CacheBackend = strings.ToLower(orDefault(fc.Cache.Backend, "redis"))
	cfg.RedisURL = orDefault(fc.Cache.Redis.URL, "redis://localhost:6379/0")
	cfg.RedisPoolSize = fc.Cache.Redis.PoolSize
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.SQLitePath = orDefault(fc.Cache.SQLite.Path, "forecast-cache.db")
	cfg.SQLitePurgeInterval = parseDuration(fc.Cache.SQLite.PurgeInterval, 10*time.Minute)

	cfg.CoalesceEnabled = fc.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Coalesce.Timeout, 10*time.Second)

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailures = fc.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailures <= 0 {
		cfg.CircuitBreakerFailures = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)
	cfg.CircuitBreakerHalfOpen = fc.CircuitBreaker.MaxHalfOpen
	if cfg.CircuitBreakerHalfOpen <= 0 {
		cfg.CircuitBreakerHalfOpen = 2
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 10*time.Second)
	cfg.InFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 5*time.Second)

	cfg.TrackedCities = fc.Warming.TrackedCities
	cfg.WarmingInterval = parseDuration(fc.Warming.Interval, 10*time.Minute)

	cfg.KafkaBrokers = fc.Events.Kafka.Brokers
	cfg.KafkaTopic = orDefault(fc.Events.Kafka.Topic, "forecast-fetched")

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}
	return cfg
}

// applyEnv overrides file values with deployment-specific environment variables.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND"))); v != "" {
		cfg.CacheBackend = v
	}
	if v := strings.TrimSpace(os.Getenv("REDIS_URL")); v != "" {
		cfg.RedisURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(os.Getenv("SQLITE_PATH")); v != "" {
		cfg.SQLitePath = v
	}
	if v := strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")); v != "" {
		cfg.GoogleMapsAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

var structValidator = validator.New()

// validate checks struct tags, then cross-field rules. A request must fit the two
// sequential upstream calls, so RequestTimeout is raised above 2*UpstreamTimeout if needed.
func validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.RequestTimeout <= 2*cfg.UpstreamTimeout {
		cfg.RequestTimeout = 2*cfg.UpstreamTimeout + time.Second
	}
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}
	return nil
}
