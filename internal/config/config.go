// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the worker
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Chain     ChainConfig     `mapstructure:"chain"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Scanner   ScannerConfig   `mapstructure:"scanner"`
	Rollup    RollupConfig    `mapstructure:"rollup"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	WorkerID    string `mapstructure:"worker_id"`
}

// ChainConfig contains upstream chain connection configuration
type ChainConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	ChainID        int64         `mapstructure:"chain_id"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TraceTimeout   time.Duration `mapstructure:"trace_timeout"`
}

// StorageConfig contains database configuration
type StorageConfig struct {
	Type             string        `mapstructure:"type"` // sqlite, postgres
	ConnectionString string        `mapstructure:"connection_string"`
	MaxConnections   int           `mapstructure:"max_connections"`
	MaxIdleTime      time.Duration `mapstructure:"max_idle_time"`
}

// ProviderConfig contains health scoring configuration
type ProviderConfig struct {
	SampleWindow       int           `mapstructure:"sample_window"`        // samples considered for success rate
	LatencyFloorMs     int64         `mapstructure:"latency_floor_ms"`     // latency under this is free
	LatencyPenaltyMax  float64       `mapstructure:"latency_penalty_max"`  // cap on latency penalty
	LatencyPenaltyStep float64       `mapstructure:"latency_penalty_step"` // ms of latency per penalty point
	FailurePenaltyMax  float64       `mapstructure:"failure_penalty_max"`  // cap on failure penalty
	LagPenaltyPerBlock float64       `mapstructure:"lag_penalty_per_block"`
	HealthyThreshold   int           `mapstructure:"healthy_threshold"`
	DegradedThreshold  int           `mapstructure:"degraded_threshold"`
	MinSelectScore     int           `mapstructure:"min_select_score"`
	ProbeTimeout       time.Duration `mapstructure:"probe_timeout"`
}

// ScannerConfig contains block ingestion configuration
type ScannerConfig struct {
	BatchSize        int    `mapstructure:"batch_size"`
	MaxReorgDepth    int    `mapstructure:"max_reorg_depth"`
	MaxTracesPerTick int    `mapstructure:"max_traces_per_tick"`
	TraceFailedOnly  bool   `mapstructure:"trace_failed_only"`
	StartBlock       uint64 `mapstructure:"start_block"`
}

// RollupConfig contains metric aggregation configuration
type RollupConfig struct {
	TopErrorCount  int `mapstructure:"top_error_count"`
	MaxBucketsBack int `mapstructure:"max_buckets_back"` // watermark catch-up bound per tick
}

// AlertsConfig contains alert evaluation configuration
type AlertsConfig struct {
	DefaultCooldown time.Duration `mapstructure:"default_cooldown"`
}

// PipelineConfig enables one pipeline and overrides its interval
type PipelineConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// PipelinesConfig contains per-pipeline scheduling configuration
type PipelinesConfig struct {
	Probe   PipelineConfig `mapstructure:"probe"`
	Scanner PipelineConfig `mapstructure:"scanner"`
	Rollup  PipelineConfig `mapstructure:"rollup"`
	Alerts  PipelineConfig `mapstructure:"alerts"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Port          int           `mapstructure:"port"`
	Host          string        `mapstructure:"host"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
	EnableHealth  bool          `mapstructure:"enable_health"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./internal/config")
	}

	viper.SetEnvPrefix("CHAINPULSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Environment overrides for deployment convenience
	if endpoints := os.Getenv("CHAIN_RPC_ENDPOINTS"); endpoints != "" {
		config.Chain.Endpoints = splitEndpoints(endpoints)
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Storage.ConnectionString = dbURL
		config.Storage.Type = "postgres"
	}

	return &config, nil
}

// splitEndpoints parses a comma-separated endpoint list
func splitEndpoints(raw string) []string {
	parts := strings.Split(raw, ",")
	endpoints := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	return endpoints
}

// setDefaults sets default configuration values
func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "chainpulse-worker")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.worker_id", "worker-1")

	// Chain defaults
	viper.SetDefault("chain.chain_id", 5000)
	viper.SetDefault("chain.request_timeout", "5s")
	viper.SetDefault("chain.trace_timeout", "10s")

	// Storage defaults
	viper.SetDefault("storage.type", "sqlite")
	viper.SetDefault("storage.connection_string", "./data/chainpulse.db")
	viper.SetDefault("storage.max_connections", 25)
	viper.SetDefault("storage.max_idle_time", "15m")

	// Provider scoring defaults
	viper.SetDefault("provider.sample_window", 10)
	viper.SetDefault("provider.latency_floor_ms", 200)
	viper.SetDefault("provider.latency_penalty_max", 30.0)
	viper.SetDefault("provider.latency_penalty_step", 50.0)
	viper.SetDefault("provider.failure_penalty_max", 75.0)
	viper.SetDefault("provider.lag_penalty_per_block", 10.0)
	viper.SetDefault("provider.healthy_threshold", 80)
	viper.SetDefault("provider.degraded_threshold", 50)
	viper.SetDefault("provider.min_select_score", 30)
	viper.SetDefault("provider.probe_timeout", "5s")

	// Scanner defaults
	viper.SetDefault("scanner.batch_size", 10)
	viper.SetDefault("scanner.max_reorg_depth", 64)
	viper.SetDefault("scanner.max_traces_per_tick", 10)
	viper.SetDefault("scanner.trace_failed_only", true)
	viper.SetDefault("scanner.start_block", 0)

	// Rollup defaults
	viper.SetDefault("rollup.top_error_count", 5)
	viper.SetDefault("rollup.max_buckets_back", 120)

	// Alert defaults
	viper.SetDefault("alerts.default_cooldown", "5m")

	// Pipeline defaults
	viper.SetDefault("pipelines.probe.enabled", true)
	viper.SetDefault("pipelines.probe.interval", "30s")
	viper.SetDefault("pipelines.scanner.enabled", true)
	viper.SetDefault("pipelines.scanner.interval", "2s")
	viper.SetDefault("pipelines.rollup.enabled", true)
	viper.SetDefault("pipelines.rollup.interval", "60s")
	viper.SetDefault("pipelines.alerts.enabled", true)
	viper.SetDefault("pipelines.alerts.interval", "30s")

	// Server defaults
	viper.SetDefault("server.port", 8081)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.enable_metrics", true)
	viper.SetDefault("server.enable_health", true)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if len(c.Chain.Endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	if c.Storage.ConnectionString == "" {
		return fmt.Errorf("storage connection string is required")
	}
	if c.Scanner.BatchSize <= 0 {
		return fmt.Errorf("scanner batch size must be positive")
	}
	if c.Scanner.MaxReorgDepth <= 0 {
		return fmt.Errorf("scanner max reorg depth must be positive")
	}
	if c.Provider.HealthyThreshold <= c.Provider.DegradedThreshold {
		return fmt.Errorf("healthy threshold must be above degraded threshold")
	}
	for name, p := range map[string]PipelineConfig{
		"probe":   c.Pipelines.Probe,
		"scanner": c.Pipelines.Scanner,
		"rollup":  c.Pipelines.Rollup,
		"alerts":  c.Pipelines.Alerts,
	} {
		if p.Enabled && p.Interval <= 0 {
			return fmt.Errorf("pipeline %s interval must be positive", name)
		}
	}
	return nil
}
