// Package config loads the performance tracking engine configuration
// from environment variables with optional .env file support.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/pkg/types"
)

// Config represents the engine configuration
type Config struct {
	Server      ServerConfig             `json:"server"`
	Store       StoreConfig              `json:"store"`
	Monitor     MonitorConfig            `json:"monitor"`
	Guard       GuardConfig              `json:"guard"`
	Persistence PersistenceConfig        `json:"persistence"`
	Analytics   AnalyticsConfig          `json:"analytics"`
	Logging     LoggingConfig            `json:"logging"`
	Thresholds  types.ResourceThresholds `json:"thresholds"`
}

// ServerConfig represents the HTTP API server configuration
type ServerConfig struct {
	Addr         string `json:"addr"`
	ReadTimeout  int    `json:"read_timeout_seconds"`
	WriteTimeout int    `json:"write_timeout_seconds"`
}

// StoreConfig bounds the in-memory metric histories
type StoreConfig struct {
	SampleCapacity int `json:"sample_capacity"`
	SystemCapacity int `json:"system_capacity"`
}

// MonitorConfig controls host sampling
type MonitorConfig struct {
	Interval   time.Duration `json:"interval"`
	DiskPath   string        `json:"disk_path"`
	GPUEnabled bool          `json:"gpu_enabled"`
}

// GuardConfig controls the admission-control watchdog
type GuardConfig struct {
	WatchdogInterval time.Duration `json:"watchdog_interval"`
}

// PersistenceConfig controls periodic snapshots
type PersistenceConfig struct {
	Enabled  bool          `json:"enabled"`
	Path     string        `json:"path"`
	Interval time.Duration `json:"interval"`
}

// AnalyticsConfig controls derived analytics
type AnalyticsConfig struct {
	TimeoutThreshold    time.Duration `json:"timeout_threshold"`
	DefaultCostPerToken float64       `json:"default_cost_per_token"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":9090",
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Store: StoreConfig{
			SampleCapacity: 1000,
			SystemCapacity: 500,
		},
		Monitor: MonitorConfig{
			Interval:   5 * time.Second,
			DiskPath:   "/",
			GPUEnabled: true,
		},
		Guard: GuardConfig{
			WatchdogInterval: 5 * time.Second,
		},
		Persistence: PersistenceConfig{
			Enabled:  true,
			Path:     "./data/performance_snapshot.json",
			Interval: 5 * time.Minute,
		},
		Analytics: AnalyticsConfig{
			TimeoutThreshold:    30 * time.Second,
			DefaultCostPerToken: 0.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Thresholds: types.DefaultResourceThresholds(),
	}
}

// LoadConfig loads configuration from environment variables and defaults
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := DefaultConfig()
	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Store.SampleCapacity <= 0 {
		return fmt.Errorf("sample capacity must be positive, got %d", c.Store.SampleCapacity)
	}
	if c.Store.SystemCapacity <= 0 {
		return fmt.Errorf("system sample capacity must be positive, got %d", c.Store.SystemCapacity)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("monitor interval must be positive, got %s", c.Monitor.Interval)
	}
	if c.Persistence.Enabled && c.Persistence.Path == "" {
		return fmt.Errorf("persistence path is required when persistence is enabled")
	}
	if c.Persistence.Interval <= 0 {
		return fmt.Errorf("persistence interval must be positive, got %s", c.Persistence.Interval)
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("invalid thresholds: %w", err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) {
	loadServerConfig(cfg)
	loadEngineConfig(cfg)
	loadThresholdConfig(cfg)
}

func loadServerConfig(cfg *Config) {
	if addr := os.Getenv("TRACKER_HTTP_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if v, ok := envInt("TRACKER_READ_TIMEOUT_SECONDS"); ok {
		cfg.Server.ReadTimeout = v
	}
	if v, ok := envInt("TRACKER_WRITE_TIMEOUT_SECONDS"); ok {
		cfg.Server.WriteTimeout = v
	}
	if level := os.Getenv("TRACKER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("TRACKER_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
}

func loadEngineConfig(cfg *Config) {
	if v, ok := envInt("TRACKER_SAMPLE_CAPACITY"); ok {
		cfg.Store.SampleCapacity = v
	}
	if v, ok := envInt("TRACKER_SYSTEM_CAPACITY"); ok {
		cfg.Store.SystemCapacity = v
	}
	if v, ok := envDuration("TRACKER_MONITOR_INTERVAL"); ok {
		cfg.Monitor.Interval = v
	}
	if path := os.Getenv("TRACKER_DISK_PATH"); path != "" {
		cfg.Monitor.DiskPath = path
	}
	if v, ok := envBool("TRACKER_GPU_ENABLED"); ok {
		cfg.Monitor.GPUEnabled = v
	}
	if v, ok := envDuration("TRACKER_WATCHDOG_INTERVAL"); ok {
		cfg.Guard.WatchdogInterval = v
	}
	if v, ok := envBool("TRACKER_PERSISTENCE_ENABLED"); ok {
		cfg.Persistence.Enabled = v
	}
	if path := os.Getenv("TRACKER_SNAPSHOT_PATH"); path != "" {
		cfg.Persistence.Path = path
	}
	if v, ok := envDuration("TRACKER_SNAPSHOT_INTERVAL"); ok {
		cfg.Persistence.Interval = v
	}
	if v, ok := envDuration("TRACKER_TIMEOUT_THRESHOLD"); ok {
		cfg.Analytics.TimeoutThreshold = v
	}
	if v, ok := envFloat("TRACKER_DEFAULT_COST_PER_TOKEN"); ok {
		cfg.Analytics.DefaultCostPerToken = v
	}
}

func loadThresholdConfig(cfg *Config) {
	if v, ok := envFloat("TRACKER_MAX_CPU_PERCENT"); ok {
		cfg.Thresholds.MaxCPUPercent = v
	}
	if v, ok := envFloat("TRACKER_CRITICAL_CPU_PERCENT"); ok {
		cfg.Thresholds.CriticalCPUPercent = v
	}
	if v, ok := envFloat("TRACKER_MAX_MEMORY_PERCENT"); ok {
		cfg.Thresholds.MaxMemoryPercent = v
	}
	if v, ok := envFloat("TRACKER_CRITICAL_MEMORY_PERCENT"); ok {
		cfg.Thresholds.CriticalMemoryPercent = v
	}
	if v, ok := envFloat("TRACKER_MAX_GPU_PERCENT"); ok {
		cfg.Thresholds.MaxGPUPercent = v
	}
	if v, ok := envFloat("TRACKER_MIN_FREE_MEMORY_MB"); ok {
		cfg.Thresholds.MinFreeMemoryMB = v
	}
	if v, ok := envInt("TRACKER_MAX_CONCURRENT_OPS"); ok {
		cfg.Thresholds.MaxConcurrentOps = int64(v)
	}
	if v, ok := envDuration("TRACKER_GUARD_COOLDOWN"); ok {
		cfg.Thresholds.Cooldown = v
	}
}

// Environment helpers

func envInt(key string) (int, bool) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i, true
		}
	}
	return 0, false
}

func envFloat(key string) (float64, bool) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

func envBool(key string) (bool, bool) {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1", true
	}
	return false, false
}

func envDuration(key string) (time.Duration, bool) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d, true
		}
	}
	return 0, false
}
