package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string
	DataDir       string

	BackendURL     string
	BackendTimeout time.Duration
	BackendRPS     float64

	PollInterval   time.Duration
	StallThreshold int
	SnapshotCache  string

	SignalsCacheTTL time.Duration

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	TaskMaxRetries int
}

// overlay is the optional YAML file referenced by CONFIG_FILE. Only the
// polling knobs are overridable this way; env vars still win.
type overlay struct {
	BackendURL     string  `yaml:"backend_url"`
	BackendRPS     float64 `yaml:"backend_rps"`
	PollInterval   string  `yaml:"poll_interval"`
	StallThreshold int     `yaml:"stall_threshold"`
	SnapshotCache  string  `yaml:"snapshot_cache"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads configuration from the environment. A .env file in the working
// directory (or ENV_FILE) is loaded first when present.
func Load() Config {
	envFile := getenv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		panic(fmt.Errorf("failed to load %s: %w", envFile, err))
	}

	defaults := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyOverlay(&defaults, path); err != nil {
			panic(err)
		}
	}

	cfg := Config{
		AppEnv:        getenv("APP_ENV", defaults.AppEnv),
		HTTPAddr:      getenv("HTTP_ADDR", defaults.HTTPAddr),
		RedisAddr:     getenv("REDIS_ADDR", defaults.RedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		DataDir:       getenv("DATA_DIR", defaults.DataDir),

		BackendURL:     getenv("BACKEND_URL", defaults.BackendURL),
		BackendTimeout: getenvDuration("BACKEND_TIMEOUT", defaults.BackendTimeout),
		BackendRPS:     getenvFloat("BACKEND_RPS", defaults.BackendRPS),

		PollInterval:   getenvDuration("POLL_INTERVAL", defaults.PollInterval),
		StallThreshold: getenvInt("STALL_THRESHOLD", defaults.StallThreshold),
		SnapshotCache:  getenv("SNAPSHOT_CACHE", defaults.SnapshotCache),

		SignalsCacheTTL: getenvDuration("SIGNALS_CACHE_TTL", defaults.SignalsCacheTTL),

		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     getenv("SUPABASE_STORAGE_BUCKET", defaults.SupabaseBucket),

		TaskMaxRetries: getenvInt("TASK_MAX_RETRIES", defaults.TaskMaxRetries),
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}
	return cfg
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		AppEnv:          "development",
		HTTPAddr:        ":8081",
		RedisAddr:       "127.0.0.1:6379",
		DataDir:         "./data",
		BackendURL:      "http://localhost:8000/api/v1",
		BackendTimeout:  10 * time.Second,
		BackendRPS:      20,
		PollInterval:    time.Second,
		StallThreshold:  5,
		SnapshotCache:   "memory",
		SignalsCacheTTL: 5 * time.Minute,
		SupabaseBucket:  "backtests",
		TaskMaxRetries:  3,
	}
}

func (c Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if c.StallThreshold < 1 {
		return fmt.Errorf("STALL_THRESHOLD must be at least 1, got %d", c.StallThreshold)
	}
	switch c.SnapshotCache {
	case "memory", "redis":
	default:
		return fmt.Errorf("SNAPSHOT_CACHE must be memory or redis, got %q", c.SnapshotCache)
	}
	return nil
}

func applyOverlay(cfg *Config, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var o overlay
	if err := yaml.Unmarshal(b, &o); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if o.BackendURL != "" {
		cfg.BackendURL = o.BackendURL
	}
	if o.BackendRPS > 0 {
		cfg.BackendRPS = o.BackendRPS
	}
	if o.PollInterval != "" {
		d, err := time.ParseDuration(o.PollInterval)
		if err != nil {
			return fmt.Errorf("poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if o.StallThreshold > 0 {
		cfg.StallThreshold = o.StallThreshold
	}
	if o.SnapshotCache != "" {
		cfg.SnapshotCache = o.SnapshotCache
	}
	return nil
}
