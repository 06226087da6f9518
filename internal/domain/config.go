package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Engine configurations
	Artifact  ArtifactConfig  `yaml:"artifact"`
	Training  TrainingConfig  `yaml:"training"`
	Detection DetectionConfig `yaml:"detection"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// ArtifactConfig holds model artifact storage settings.
type ArtifactConfig struct {
	// Dir is the directory holding the co-versioned scaler and forest blobs.
	Dir string `yaml:"dir"`
}

// TrainingConfig holds training pipeline settings.
type TrainingConfig struct {
	// MinAmount filters the training stratum: only transactions above this
	// amount are fetched.
	MinAmount float64 `yaml:"minAmount"`

	// Limit caps the training window (most recent first).
	Limit int `yaml:"limit"`

	// TestFraction is the held-out share of the stratified split.
	TestFraction float64 `yaml:"testFraction"`

	// Trees is the forest size.
	Trees int `yaml:"trees"`

	// MaxDepth and MinSamplesSplit bound individual tree growth.
	MaxDepth        int `yaml:"maxDepth"`
	MinSamplesSplit int `yaml:"minSamplesSplit"`

	// Neighbors is the oversampler's nearest-neighbor count.
	Neighbors int `yaml:"neighbors"`

	// WarnPositives logs a warning when the positive class is smaller than
	// this before training proceeds.
	WarnPositives int `yaml:"warnPositives"`

	// Seed makes training deterministic.
	Seed int64 `yaml:"seed"`
}

// DetectionConfig holds scoring pipeline settings.
type DetectionConfig struct {
	// WindowLimit bounds the scoring window (most recent first).
	WindowLimit int `yaml:"windowLimit"`

	// BatchSize bounds store write batches (alert inserts and prediction
	// upserts) to limit transaction and lock duration.
	BatchSize int `yaml:"batchSize"`

	// Interval enables periodic detection runs when positive (seconds).
	Interval int `yaml:"interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
	Endpoint    string `yaml:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Artifact: ArtifactConfig{
			Dir: "./model",
		},
		Training: TrainingConfig{
			MinAmount:       800,
			Limit:           1000,
			TestFraction:    0.2,
			Trees:           100,
			MaxDepth:        12,
			MinSamplesSplit: 2,
			Neighbors:       5,
			WarnPositives:   10,
			Seed:            42,
		},
		Detection: DetectionConfig{
			WindowLimit: 1000,
			BatchSize:   25,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadFile overlays a YAML configuration file onto cfg.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
