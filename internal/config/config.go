package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/loader"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Traversal defaults
	MaxDepth     int           `yaml:"max_depth"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	RetryCount   int           `yaml:"retry_count"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Credentials  string        `yaml:"credentials"`

	NoSingleAdPods bool `yaml:"no_single_ad_pods"`

	// HTTP fetching
	UserAgent     string  `yaml:"user_agent"`
	Origin        string  `yaml:"origin"`
	MaxBodyBytes  int64   `yaml:"max_body_bytes"`
	HostRateLimit float64 `yaml:"host_rate_limit"`
	HostRateBurst int     `yaml:"host_rate_burst"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// Fetch latency stats
	StatsWindow time.Duration `yaml:"stats_window"`

	Debug bool `yaml:"debug"`
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("VASTCHAIN_API_KEY"),

		MaxDepth:     envInt("MAX_DEPTH", loader.DefaultMaxDepth),
		FetchTimeout: envDuration("FETCH_TIMEOUT", loader.DefaultTimeout),
		RetryCount:   envInt("RETRY_COUNT", 0),
		RetryBackoff: envDuration("RETRY_BACKOFF", 0),
		Credentials:  envOr("CREDENTIALS", string(fetch.CredentialsOmit)),

		NoSingleAdPods: envBool("NO_SINGLE_AD_PODS", false),

		UserAgent:     envOr("USER_AGENT", "vastchain/1.0"),
		Origin:        os.Getenv("ORIGIN"),
		MaxBodyBytes:  envInt64("MAX_BODY_BYTES", 2<<20), // 2MB
		HostRateLimit: envFloat("HOST_RATE_LIMIT", 0),
		HostRateBurst: envInt("HOST_RATE_BURST", 5),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		StatsWindow: envDuration("STATS_WINDOW", 1*time.Hour),

		Debug: envBool("DEBUG", false),
	}
	cfg.applyDefaults()
	return cfg
}

// LoadFile loads the environment config and overlays the YAML profile at
// path. Keys missing from the file keep their environment values.
func LoadFile(path string) (Config, error) {
	cfg := Load()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MaxDepth < 0 {
		c.MaxDepth = 0
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = loader.DefaultTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.Credentials == "" {
		c.Credentials = string(fetch.CredentialsOmit)
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
	if c.HostRateBurst <= 0 {
		c.HostRateBurst = 5
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 4
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 100
	}
	if c.JobTTL <= 0 {
		c.JobTTL = 1 * time.Hour
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = 1 * time.Hour
	}
}

func (c Config) Validate() error {
	if _, err := fetch.ParseStrategy(c.Credentials); err != nil {
		return fmt.Errorf("CREDENTIALS: %w", err)
	}
	if c.HostRateLimit < 0 {
		return fmt.Errorf("HOST_RATE_LIMIT must not be negative")
	}
	return nil
}

// ValidateServer also requires the settings only the HTTP service needs.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("VASTCHAIN_API_KEY is required")
	}
	return nil
}

// LoadConfig returns the traversal settings for uri. The credentials string
// must already have passed Validate.
func (c Config) LoadConfig(uri string) loader.LoadConfig {
	strategy, err := fetch.ParseStrategy(c.Credentials)
	if err != nil {
		strategy = fetch.Strategy(fetch.CredentialsOmit)
	}
	return loader.LoadConfig{
		URI:         uri,
		MaxDepth:    c.MaxDepth,
		Timeout:     c.FetchTimeout,
		RetryCount:  c.RetryCount,
		Credentials: strategy,
		BackoffBase: c.RetryBackoff,
		BackoffMax:  30 * time.Second,

		NoSingleAdPods: c.NoSingleAdPods,
	}
}

// HTTPOptions returns the fetcher settings. The limiter is nil when host
// rate limiting is disabled.
func (c Config) HTTPOptions() fetch.HTTPOptions {
	return fetch.HTTPOptions{
		UserAgent:    c.UserAgent,
		MaxBodyBytes: c.MaxBodyBytes,
		Origin:       c.Origin,
		Limiter:      fetch.NewHostLimiter(c.HostRateLimit, c.HostRateBurst),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
