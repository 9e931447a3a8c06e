// Package config loads the typed runtime configuration for streamcore from
// environment variables and an optional config file, with defaults for
// every externally-configurable knob the ingest plane exposes.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the ingest plane.
type Config struct {
	Pool        PoolConfig        `mapstructure:"pool"`
	LoadBalance LoadBalanceConfig `mapstructure:"load_balance"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Jobs        JobsConfig        `mapstructure:"jobs"`
	Holder      HolderConfig      `mapstructure:"holder"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Store       StoreConfig       `mapstructure:"store"`
}

// StoreConfig addresses the persistent store (§6). An empty DSN disables
// persistence-backed components (e.g. the graduation-fixer) entirely,
// rather than failing startup — streamcore can run ingest-only.
type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PoolConfig configures the connection pool (C2).
type PoolConfig struct {
	MaxConnections      int           `mapstructure:"max_connections"`
	MinConnections      int           `mapstructure:"min_connections"`
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	ConnectionTimeout   time.Duration `mapstructure:"connection_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	PriorityGroups      PriorityGroupConfig `mapstructure:"priority_groups"`
	ExternalPrograms    map[string]string   `mapstructure:"external_programs"`
}

// PriorityGroupConfig is the three sets of monitor-type strings mapped to
// priority classes (spec.md §6).
type PriorityGroupConfig struct {
	High   []string `mapstructure:"high"`
	Medium []string `mapstructure:"medium"`
	Low    []string `mapstructure:"low"`
}

// LoadBalanceConfig configures the load balancer (C4).
type LoadBalanceConfig struct {
	RebalanceThreshold    float64       `mapstructure:"rebalance_threshold"`
	MinRebalanceInterval  time.Duration `mapstructure:"min_rebalance_interval"`
	LoadCalculationInterval time.Duration `mapstructure:"load_calculation_interval"`
	MigrationBatchSize    int           `mapstructure:"migration_batch_size"`
	TargetLoadRatio       float64       `mapstructure:"target_load_ratio"`
}

// RateLimitConfig configures the subscription rate limiter (C1).
type RateLimitConfig struct {
	MaxSubscriptions int           `mapstructure:"max_subscriptions"`
	TimeWindow       time.Duration `mapstructure:"time_window"`
}

// JobsConfig configures the job queue / worker pool (C9/C10).
type JobsConfig struct {
	MaxWorkers        int           `mapstructure:"max_workers"`
	WorkerIdleTimeout time.Duration `mapstructure:"worker_idle_timeout"`
	BatchSize         int           `mapstructure:"batch_size"`
}

// HolderConfig configures the holder-analysis orchestrator (C12).
type HolderConfig struct {
	MaxHolders      int  `mapstructure:"max_holders"`
	ClassifyWallets bool `mapstructure:"classify_wallets"`
	EnableTrends    bool `mapstructure:"enable_trends"`
	SaveSnapshot    bool `mapstructure:"save_snapshot"`
	ForceRefresh    bool `mapstructure:"force_refresh"`
}

// LoggingConfig controls zap logger level/encoding.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// UpstreamConfig addresses the streaming endpoint dialed by the connection
// pool.
type UpstreamConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
}

// Load reads configuration from environment variables (prefixed
// STREAMCORE_) and an optional config file named "streamcore" on the
// current path or ./config.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("streamcore")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("STREAMCORE")
	v.AutomaticEnv()

	_ = v.ReadInConfig() // optional: absence is not an error

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Pool.MaxConnections <= 0 {
		cfg.Pool.MaxConnections = 3
	}
	if cfg.Pool.MinConnections <= 0 {
		cfg.Pool.MinConnections = 2
	}
	if cfg.Jobs.MaxWorkers <= 0 {
		cfg.Jobs.MaxWorkers = 3
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.max_connections", 3)
	v.SetDefault("pool.min_connections", 2)
	v.SetDefault("pool.health_check_interval", 30*time.Second)
	v.SetDefault("pool.connection_timeout", 30*time.Second)
	v.SetDefault("pool.max_retries", 5)
	v.SetDefault("pool.priority_groups.high", []string{"bonding_curve"})
	v.SetDefault("pool.priority_groups.medium", []string{"amm_pool"})
	v.SetDefault("pool.priority_groups.low", []string{"external_amm"})
	v.SetDefault("pool.external_programs", map[string]string{})

	v.SetDefault("load_balance.rebalance_threshold", 30.0)
	v.SetDefault("load_balance.min_rebalance_interval", 60*time.Second)
	v.SetDefault("load_balance.load_calculation_interval", 5*time.Second)
	v.SetDefault("load_balance.migration_batch_size", 2)
	v.SetDefault("load_balance.target_load_ratio", 0.7)

	v.SetDefault("rate_limit.max_subscriptions", 100)
	v.SetDefault("rate_limit.time_window", 60*time.Second)

	v.SetDefault("jobs.max_workers", 3)
	v.SetDefault("jobs.worker_idle_timeout", 300*time.Second)
	v.SetDefault("jobs.batch_size", 10)

	v.SetDefault("holder.max_holders", 100)
	v.SetDefault("holder.classify_wallets", true)
	v.SetDefault("holder.enable_trends", true)
	v.SetDefault("holder.save_snapshot", true)
	v.SetDefault("holder.force_refresh", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.api_key", "")

	v.SetDefault("store.dsn", "")
}
