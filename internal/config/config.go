package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the jobsync server.
type Config struct {
	Server  ServerConfig
	Gateway GatewayConfig
	Redis   RedisConfig
	Poller  PollerConfig
	Failure FailureConfig
	Upload  UploadConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port               int
	Env                string
	RateLimitPerMinute int
}

type GatewayConfig struct {
	BaseURL       string
	Timeout       time.Duration
	UploadTimeout time.Duration
}

// RedisConfig is optional. An empty URL keeps the cache in process memory.
type RedisConfig struct {
	URL string
}

type PollerConfig struct {
	WindowHours int
	Interval    time.Duration
}

type FailureConfig struct {
	LookupTimeout time.Duration
}

// UploadConfig bounds how long an abandoned upload session keeps its
// buffered files.
type UploadConfig struct {
	SessionTTL time.Duration
}

type LogConfig struct {
	Level string
	File  string
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Server: ServerConfig{
			Port:               envInt("JOBSYNC_PORT", 8080),
			Env:                envString("JOBSYNC_ENV", "development"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Gateway: GatewayConfig{
			BaseURL:       strings.TrimRight(os.Getenv("GATEWAY_BASE_URL"), "/"),
			Timeout:       envDuration("GATEWAY_TIMEOUT", 30*time.Second),
			UploadTimeout: envDuration("GATEWAY_UPLOAD_TIMEOUT", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Poller: PollerConfig{
			WindowHours: envInt("POLL_WINDOW_HOURS", 24),
			Interval:    10 * time.Second,
		},
		Failure: FailureConfig{
			LookupTimeout: envDurationSecs("FAILURE_LOOKUP_TIMEOUT_SECS", 5*time.Second),
		},
		Upload: UploadConfig{
			SessionTTL: envDuration("UPLOAD_SESSION_TTL", 24*time.Hour),
		},
		Log: LogConfig{
			Level: strings.ToLower(envString("LOG_LEVEL", "info")),
			File:  os.Getenv("LOG_FILE"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Gateway.BaseURL, "http://") && !strings.HasPrefix(c.Gateway.BaseURL, "https://") {
		return fmt.Errorf("GATEWAY_BASE_URL must start with http:// or https://, got %q", c.Gateway.BaseURL)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.Poller.WindowHours <= 0 {
		return fmt.Errorf("POLL_WINDOW_HOURS must be positive, got %d", c.Poller.WindowHours)
	}

	if c.Server.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.Server.RateLimitPerMinute)
	}

	if c.Upload.SessionTTL <= 0 {
		return fmt.Errorf("UPLOAD_SESSION_TTL must be positive, got %s", c.Upload.SessionTTL)
	}

	if !validLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
