package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration
	LogLevel       string

	UpstreamBaseURL string
	UserAgent       string
	UpstreamTimeout time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration

	PointsTTL       time.Duration
	StationsTTL     time.Duration
	ObservationsTTL time.Duration
	ForecastsTTL    time.Duration
	IconsTTL        time.Duration
	FailureTTL      time.Duration

	CoalesceTimeout time.Duration
	FanOutLimit     int
	ProbeLimit      int

	CacheBackend          string // "in_memory", "memcached" or "redis"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisTimeout          time.Duration

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBSuccessThreshold    int
	CBTimeout             time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout time.Duration

	DegradedWindow   time.Duration
	DegradedErrorPct int

	WarmCenters  []models.Coordinate
	WarmInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port           string `yaml:"port"`
		RequestTimeout string `yaml:"request_timeout"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	Upstream struct {
		BaseURL   string `yaml:"base_url"`
		UserAgent string `yaml:"user_agent"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"upstream"`

	Cache struct {
		Backend string `yaml:"backend"`
		TTL     struct {
			Points       string `yaml:"points"`
			Stations     string `yaml:"stations"`
			Observations string `yaml:"observations"`
			Forecasts    string `yaml:"forecasts"`
			Icons        string `yaml:"icons"`
			Failures     string `yaml:"failures"`
		} `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr    string `yaml:"addr"`
			Timeout string `yaml:"timeout"`
		} `yaml:"redis"`
	} `yaml:"cache"`

	Orchestrator struct {
		CoalesceTimeout string `yaml:"coalesce_timeout"`
		FanOutLimit     int    `yaml:"fan_out_limit"`
		ProbeLimit      int    `yaml:"probe_limit"`
	} `yaml:"orchestrator"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Warming struct {
		Interval string              `yaml:"interval"`
		Centers  []models.Coordinate `yaml:"centers"`
	} `yaml:"warming"`
}

// Load reads an optional .env file, then config/{ENV_NAME}.yaml (default dev),
// then applies env overrides. Variables already set in the environment win
// over .env. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env file: %w", err)
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

	cfg := &Config{}

	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.RequestTimeout = parseDuration(fc.Server.RequestTimeout, 30*time.Second)
	cfg.LogLevel = firstNonEmpty(os.Getenv("LOG_LEVEL"), fc.Log.Level, "INFO")

	cfg.UpstreamBaseURL = firstNonEmpty(fc.Upstream.BaseURL, "https://api.weather.gov")
	cfg.UserAgent = firstNonEmpty(strings.TrimSpace(os.Getenv("NWS_USER_AGENT")), strings.TrimSpace(fc.Upstream.UserAgent))
	cfg.UpstreamTimeout = parseDurationOrZero(fc.Upstream.Timeout, 8*time.Second)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 200*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)

	ttl := fc.Cache.TTL
	cfg.PointsTTL = parseDuration(ttl.Points, 10*time.Minute)
	cfg.StationsTTL = parseDuration(ttl.Stations, 10*time.Minute)
	cfg.ObservationsTTL = parseDuration(ttl.Observations, 2*time.Minute)
	cfg.ForecastsTTL = parseDuration(ttl.Forecasts, 5*time.Minute)
	cfg.IconsTTL = parseDuration(ttl.Icons, 30*time.Minute)
	cfg.FailureTTL = parseDuration(ttl.Failures, 30*time.Second)

	cfg.CoalesceTimeout = parseDuration(fc.Orchestrator.CoalesceTimeout, 20*time.Second)
	cfg.FanOutLimit = fc.Orchestrator.FanOutLimit
	if cfg.FanOutLimit <= 0 {
		cfg.FanOutLimit = 8
	}
	cfg.ProbeLimit = fc.Orchestrator.ProbeLimit
	if cfg.ProbeLimit <= 0 {
		cfg.ProbeLimit = 4
	}

	cfg.CacheBackend = strings.TrimSpace(strings.ToLower(os.Getenv("CACHE_BACKEND")))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = strings.TrimSpace(strings.ToLower(fc.Cache.Backend))
	}
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "in_memory"
	}
	cfg.MemcachedAddrs = firstNonEmpty(
		strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")),
		strings.TrimSpace(fc.Cache.Memcached.Addrs),
		"localhost:11211",
	)
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = firstNonEmpty(
		strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		strings.TrimSpace(fc.Cache.Redis.Addr),
		"localhost:6379",
	)
	cfg.RedisTimeout = parseDuration(fc.Cache.Redis.Timeout, 500*time.Millisecond)

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = true
	if cb.Enabled != nil {
		cfg.CircuitBreakerEnabled = *cb.Enabled
	}
	cfg.CBFailureThreshold = cb.FailureThreshold
	if cfg.CBFailureThreshold <= 0 {
		cfg.CBFailureThreshold = 5
	}
	cfg.CBSuccessThreshold = cb.SuccessThreshold
	if cfg.CBSuccessThreshold <= 0 {
		cfg.CBSuccessThreshold = 2
	}
	cfg.CBTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 20
	}

	cfg.WarmInterval = parseDurationOrZero(fc.Warming.Interval, 0)
	cfg.WarmCenters = fc.Warming.Centers

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
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

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// validate performs post-load validation of configuration values.
// The weather API rejects requests without an identifying user agent, so
// an empty one fails startup rather than every fetch.
func validate(cfg *Config) error {
	if cfg.UserAgent == "" {
		return fmt.Errorf("NWS_USER_AGENT required (set env or upstream.user_agent)")
	}
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		cfg.RetryMaxDelay = cfg.RetryBaseDelay
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "redis":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or redis, got %q", cfg.CacheBackend)
	}
	for i, c := range cfg.WarmCenters {
		if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
			return fmt.Errorf("warming.centers[%d] out of range: %v", i, c)
		}
	}
	return nil
}
