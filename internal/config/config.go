// Package config resolves the task orchestration core's process-wide
// configuration (spec §6.4): defaults, then a YAML file, then environment
// variables — the default/file/env part of the teacher's layering order for
// internal/config.Load(opts ...Option); there is no explicit override layer, with
// viper supplying the file/env plumbing the same way cmd/cobra_cli.go wires
// it for the teacher's own CLI config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the environment variable prefix recognized for every option
// below (e.g. TSYNC_WORKER_COUNT overrides worker_count).
const EnvPrefix = "TSYNC"

// Config is the resolved process-wide configuration (spec §6.4).
type Config struct {
	WorkerCount               int `mapstructure:"worker_count"`
	SyncBatchSize             int `mapstructure:"sync_batch_size"`
	SyncBatchTimeoutSeconds   int `mapstructure:"sync_batch_timeout_seconds"`
	MaxRetries                int `mapstructure:"max_retries"`
	BackoffBase               int `mapstructure:"backoff_base"`
	EmbeddingMaxContentLength int `mapstructure:"embedding_max_content_length"`

	CircuitFailureThreshold       int `mapstructure:"circuit_failure_threshold"`
	CircuitRecoveryTimeoutSeconds int `mapstructure:"circuit_recovery_timeout_seconds"`

	ConnectionCapRelational     int `mapstructure:"connection_cap_relational"`
	ConnectionCapVector         int `mapstructure:"connection_cap_vector"`
	ConnectionCapGraph          int `mapstructure:"connection_cap_graph"`
	ConnectionTimeoutRelational int `mapstructure:"connection_timeout_relational"`
	ConnectionTimeoutVector     int `mapstructure:"connection_timeout_vector"`
	ConnectionTimeoutGraph      int `mapstructure:"connection_timeout_graph"`

	ErrorHistoryWindowSeconds int `mapstructure:"error_history_window_seconds"`

	OptimizeIntervalHours        int `mapstructure:"optimize_interval_hours"`
	OptimizeLargeChangeThreshold int `mapstructure:"optimize_large_change_threshold"`

	// Connection strings are recognized only via file/env, never given a
	// baked-in default (spec §6.5: schema/connection details are adapter-
	// owned and out of scope for this core).
	RelationalDSN string `mapstructure:"relational_dsn"`
	VectorPath    string `mapstructure:"vector_path"`
	GraphURI      string `mapstructure:"graph_uri"`
	GraphUsername string `mapstructure:"graph_username"`
	GraphPassword string `mapstructure:"graph_password"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Defaults returns the Config populated with spec §6.4's documented
// defaults.
func Defaults() Config {
	return Config{
		WorkerCount:               4,
		SyncBatchSize:             10,
		SyncBatchTimeoutSeconds:   30,
		MaxRetries:                3,
		BackoffBase:               2,
		EmbeddingMaxContentLength: 2000,

		CircuitFailureThreshold:       5,
		CircuitRecoveryTimeoutSeconds: 60,

		ConnectionCapRelational:     10,
		ConnectionCapVector:         5,
		ConnectionCapGraph:          5,
		ConnectionTimeoutRelational: 5,
		ConnectionTimeoutVector:     5,
		ConnectionTimeoutGraph:      5,

		ErrorHistoryWindowSeconds: 300,

		OptimizeIntervalHours:        6,
		OptimizeLargeChangeThreshold: 10000,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Option customizes Load's resolution, mirroring the teacher's functional-
// option Load(opts ...Option) shape.
type Option func(*loadState)

type loadState struct {
	filePath string
}

// WithFile points Load at an explicit YAML config file path instead of the
// default search path (".", "$HOME").
func WithFile(path string) Option {
	return func(s *loadState) { s.filePath = path }
}

// Load resolves Config from, in increasing precedence: Defaults(), an
// optional "tsyncd.yaml" file (searched in "." and "$HOME" unless WithFile
// overrides it), then TSYNC_-prefixed environment variables.
func Load(opts ...Option) (Config, error) {
	state := &loadState{}
	for _, opt := range opts {
		opt(state)
	}

	defaults := Defaults()
	v := viper.New()
	setViperDefaults(v, defaults)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if state.filePath != "" {
		v.SetConfigFile(state.filePath)
	} else {
		v.SetConfigName("tsyncd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && state.filePath != "" {
			return Config{}, fmt.Errorf("config: read %s: %w", state.filePath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("worker_count", cfg.WorkerCount)
	v.SetDefault("sync_batch_size", cfg.SyncBatchSize)
	v.SetDefault("sync_batch_timeout_seconds", cfg.SyncBatchTimeoutSeconds)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("backoff_base", cfg.BackoffBase)
	v.SetDefault("embedding_max_content_length", cfg.EmbeddingMaxContentLength)
	v.SetDefault("circuit_failure_threshold", cfg.CircuitFailureThreshold)
	v.SetDefault("circuit_recovery_timeout_seconds", cfg.CircuitRecoveryTimeoutSeconds)
	v.SetDefault("connection_cap_relational", cfg.ConnectionCapRelational)
	v.SetDefault("connection_cap_vector", cfg.ConnectionCapVector)
	v.SetDefault("connection_cap_graph", cfg.ConnectionCapGraph)
	v.SetDefault("connection_timeout_relational", cfg.ConnectionTimeoutRelational)
	v.SetDefault("connection_timeout_vector", cfg.ConnectionTimeoutVector)
	v.SetDefault("connection_timeout_graph", cfg.ConnectionTimeoutGraph)
	v.SetDefault("error_history_window_seconds", cfg.ErrorHistoryWindowSeconds)
	v.SetDefault("optimize_interval_hours", cfg.OptimizeIntervalHours)
	v.SetDefault("optimize_large_change_threshold", cfg.OptimizeLargeChangeThreshold)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
}

// RecoveryTimeout returns CircuitRecoveryTimeoutSeconds as a time.Duration.
func (c Config) RecoveryTimeout() time.Duration {
	return time.Duration(c.CircuitRecoveryTimeoutSeconds) * time.Second
}

// ErrorHistoryWindow returns ErrorHistoryWindowSeconds as a time.Duration.
func (c Config) ErrorHistoryWindow() time.Duration {
	return time.Duration(c.ErrorHistoryWindowSeconds) * time.Second
}

// SyncBatchTimeout returns SyncBatchTimeoutSeconds as a time.Duration.
func (c Config) SyncBatchTimeout() time.Duration {
	return time.Duration(c.SyncBatchTimeoutSeconds) * time.Second
}

// ConnectionTimeout returns a per-store connection timeout as a
// time.Duration, in the same {relational,vector,graph} triple spec §6.4
// names.
func (c Config) ConnectionTimeout(store string) time.Duration {
	switch store {
	case "vector":
		return time.Duration(c.ConnectionTimeoutVector) * time.Second
	case "graph":
		return time.Duration(c.ConnectionTimeoutGraph) * time.Second
	default:
		return time.Duration(c.ConnectionTimeoutRelational) * time.Second
	}
}

// OptimizeInterval returns the cron-equivalent interval for the index
// optimization service in hours as a time.Duration.
func (c Config) OptimizeInterval() time.Duration {
	return time.Duration(c.OptimizeIntervalHours) * time.Hour
}
