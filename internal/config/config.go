// Package config loads engine configuration from environment variables,
// optionally layered on top of a static YAML file for checked-in defaults.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all tunables for a streaming engine instance.
type Config struct {
	// Transport
	Endpoint string `yaml:"endpoint"` // wss://<service>/socket.io/websocket
	Origin   string `yaml:"origin"`   // Origin header value

	// Reconnector
	ReconnectCapSeconds int `yaml:"reconnect_cap_seconds"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`

	// Descriptor cache (Study Binder)
	DescriptorCacheBackend  string `yaml:"descriptor_cache_backend"` // "memory", "sqlite", "redis"
	DescriptorCacheCapacity int    `yaml:"descriptor_cache_capacity"`
	SQLitePath              string `yaml:"sqlite_path"`
	RedisAddr               string `yaml:"redis_addr"`
	RedisPassword           string `yaml:"redis_password"`

	// Metadata fetcher rate limiting / circuit breaking
	MetadataRatePerSecond float64 `yaml:"metadata_rate_per_second"`
	MetadataBurst         int     `yaml:"metadata_burst"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Load reads a config from an optional YAML file, then overlays environment
// variables on top. Every field has a usable default, so Load never fails
// due to missing configuration — only a malformed YAML file is an error.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Endpoint:                getEnv("TVSTREAM_ENDPOINT", "wss://data.tradingview.com/socket.io/websocket"),
		Origin:                  getEnv("TVSTREAM_ORIGIN", "https://www.tradingview.com"),
		ReconnectCapSeconds:     getEnvInt("TVSTREAM_RECONNECT_CAP_SECONDS", 60),
		MaxReconnectAttempts:    getEnvInt("TVSTREAM_MAX_RECONNECT_ATTEMPTS", 10),
		DescriptorCacheBackend:  getEnv("TVSTREAM_DESCRIPTOR_CACHE_BACKEND", "memory"),
		DescriptorCacheCapacity: getEnvInt("TVSTREAM_DESCRIPTOR_CACHE_CAPACITY", 100),
		SQLitePath:              getEnv("TVSTREAM_SQLITE_PATH", "data/descriptors.db"),
		RedisAddr:               getEnv("TVSTREAM_REDIS_ADDR", "localhost:6379"),
		RedisPassword:           getEnv("TVSTREAM_REDIS_PASSWORD", ""),
		MetadataRatePerSecond:   getEnvFloat("TVSTREAM_METADATA_RATE", 5.0),
		MetadataBurst:           getEnvInt("TVSTREAM_METADATA_BURST", 5),
		MetricsAddr:             getEnv("TVSTREAM_METRICS_ADDR", ":9090"),
		LogLevel:                getEnv("TVSTREAM_LOG_LEVEL", "info"),
	}

	if yamlPath != "" {
		if err := overlayYAML(cfg, yamlPath); err != nil {
			return nil, fmt.Errorf("config: load yaml: %w", err)
		}
	}

	return cfg, nil
}

// overlayYAML fills in fields from a YAML file for values the caller didn't
// already set via environment variable (env vars always win, matching the
// layering order other repos in this family use: file defaults, env
// overrides).
func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return err
	}

	applyYAMLDefaults(cfg, &fileCfg)
	return nil
}

// applyYAMLDefaults overwrites a field of cfg with the corresponding value
// from fileCfg when that value is non-zero and the field's environment
// variable is unset, so an explicit env var always wins over the file.
func applyYAMLDefaults(cfg, fileCfg *Config) {
	if fileCfg.Endpoint != "" && os.Getenv("TVSTREAM_ENDPOINT") == "" {
		cfg.Endpoint = fileCfg.Endpoint
	}
	if fileCfg.Origin != "" && os.Getenv("TVSTREAM_ORIGIN") == "" {
		cfg.Origin = fileCfg.Origin
	}
	if fileCfg.ReconnectCapSeconds != 0 && os.Getenv("TVSTREAM_RECONNECT_CAP_SECONDS") == "" {
		cfg.ReconnectCapSeconds = fileCfg.ReconnectCapSeconds
	}
	if fileCfg.MaxReconnectAttempts != 0 && os.Getenv("TVSTREAM_MAX_RECONNECT_ATTEMPTS") == "" {
		cfg.MaxReconnectAttempts = fileCfg.MaxReconnectAttempts
	}
	if fileCfg.DescriptorCacheBackend != "" && os.Getenv("TVSTREAM_DESCRIPTOR_CACHE_BACKEND") == "" {
		cfg.DescriptorCacheBackend = fileCfg.DescriptorCacheBackend
	}
	if fileCfg.DescriptorCacheCapacity != 0 && os.Getenv("TVSTREAM_DESCRIPTOR_CACHE_CAPACITY") == "" {
		cfg.DescriptorCacheCapacity = fileCfg.DescriptorCacheCapacity
	}
	if fileCfg.SQLitePath != "" && os.Getenv("TVSTREAM_SQLITE_PATH") == "" {
		cfg.SQLitePath = fileCfg.SQLitePath
	}
	if fileCfg.RedisAddr != "" && os.Getenv("TVSTREAM_REDIS_ADDR") == "" {
		cfg.RedisAddr = fileCfg.RedisAddr
	}
	if fileCfg.RedisPassword != "" && os.Getenv("TVSTREAM_REDIS_PASSWORD") == "" {
		cfg.RedisPassword = fileCfg.RedisPassword
	}
	if fileCfg.MetadataRatePerSecond != 0 && os.Getenv("TVSTREAM_METADATA_RATE") == "" {
		cfg.MetadataRatePerSecond = fileCfg.MetadataRatePerSecond
	}
	if fileCfg.MetadataBurst != 0 && os.Getenv("TVSTREAM_METADATA_BURST") == "" {
		cfg.MetadataBurst = fileCfg.MetadataBurst
	}
	if fileCfg.MetricsAddr != "" && os.Getenv("TVSTREAM_METRICS_ADDR") == "" {
		cfg.MetricsAddr = fileCfg.MetricsAddr
	}
	if fileCfg.LogLevel != "" && os.Getenv("TVSTREAM_LOG_LEVEL") == "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
}

// ReconnectCap returns the backoff cap as a time.Duration.
func (c *Config) ReconnectCap() time.Duration {
	return time.Duration(c.ReconnectCapSeconds) * time.Second
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s=%q, using default %f", key, v, fallback)
		return fallback
	}
	return f
}
