package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends understood by the daemon.
const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	Genesis       string          `yaml:"genesis"`
	Storage       StorageConfig   `yaml:"storage"`
	BlockInterval time.Duration   `yaml:"block_interval"`
	TLS           TLSConfig       `yaml:"tls"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Indexer       IndexerConfig   `yaml:"indexer"`
	Redis         RedisConfig     `yaml:"redis"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the state backend.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// TLSConfig describes the TLS material for the HTTP server.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures verification of admin bearer tokens.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	JWTSecretEnv string        `yaml:"jwt_secret_env"`
	Issuer       string        `yaml:"issuer"`
	Audience     string        `yaml:"audience"`
	Leeway       time.Duration `yaml:"leeway"`
}

// RateLimitConfig bounds requests per client address. A zero rate disables
// limiting.
type RateLimitConfig struct {
	RatePerSecond     float64       `yaml:"rate_per_second"`
	Burst             int           `yaml:"burst"`
	IdleTTL           time.Duration `yaml:"idle_ttl"`
	TrustProxyHeaders bool          `yaml:"trust_proxy_headers"`
}

// IndexerConfig points the event indexer at a database. An empty DSN
// disables indexing.
type IndexerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables publishing committed events to redis.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	Stream    string `yaml:"stream"`
	StreamLen int64  `yaml:"stream_max_len"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	Env        string `yaml:"env"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	Headers     string  `yaml:"headers"`
	Traces      bool    `yaml:"traces"`
	Metrics     bool    `yaml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{}
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8086",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8086"
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = "./lending-data"
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	if cfg.Genesis == "" {
		cfg.Genesis = cfg.DataDir + "/genesis.toml"
	}
	if cfg.BlockInterval <= 0 {
		cfg.BlockInterval = time.Second
	}
	cfg.Storage.normalize(cfg.DataDir)
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	if cfg.RateLimit.RatePerSecond > 0 && cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RatePerSecond) + 1
	}
	if cfg.RateLimit.IdleTTL <= 0 {
		cfg.RateLimit.IdleTTL = 10 * time.Minute
	}
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	if cfg.Indexer.DSN != "" && cfg.Indexer.Driver == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	cfg.Redis.Addr = strings.TrimSpace(cfg.Redis.Addr)
	if cfg.Redis.Channel == "" {
		cfg.Redis.Channel = "marginchain:lending:events"
	}
	if cfg.Redis.StreamLen <= 0 {
		cfg.Redis.StreamLen = 10_000
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RatePerSecond < 0 {
		return fmt.Errorf("rate_limit: rate_per_second must not be negative")
	}
	switch cfg.Indexer.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unsupported driver %q", cfg.Indexer.Driver)
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: sample_ratio must be within [0, 1]")
	}
	return nil
}

func (cfg *StorageConfig) normalize(dataDir string) {
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	if cfg.Backend == "" {
		cfg.Backend = BackendLevelDB
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.Path == "" {
		switch cfg.Backend {
		case BackendBolt:
			cfg.Path = dataDir + "/state.bolt"
		case BackendLevelDB:
			cfg.Path = dataDir + "/state"
		}
	}
}

func (cfg StorageConfig) validate() error {
	switch cfg.Backend {
	case BackendMemory, BackendLevelDB, BackendBolt:
		return nil
	default:
		return fmt.Errorf("unsupported backend %q", cfg.Backend)
	}
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the server should terminate TLS itself.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.JWTSecretEnv = strings.TrimSpace(cfg.JWTSecretEnv)
	if cfg.JWTSecret == "" && cfg.JWTSecretEnv != "" {
		cfg.JWTSecret = strings.TrimSpace(os.Getenv(cfg.JWTSecretEnv))
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Leeway <= 0 {
		cfg.Leeway = 30 * time.Second
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.JWTSecret == "" {
		if cfg.JWTSecretEnv != "" {
			return fmt.Errorf("environment variable %s is empty", cfg.JWTSecretEnv)
		}
		return fmt.Errorf("jwt_secret or jwt_secret_env must be configured")
	}
	if len(cfg.JWTSecret) < 32 {
		return fmt.Errorf("jwt_secret must be at least 32 bytes")
	}
	return nil
}
