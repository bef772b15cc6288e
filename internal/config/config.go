// Package config defines the top-level configuration for the settlement
// core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SETTLECORE_* environment
// variables.
type Config struct {
	Engine    EngineConfig    `toml:"engine"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Oracle    OracleConfig    `toml:"oracle"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// EngineConfig holds market-engine authorization and creation bounds.
type EngineConfig struct {
	FactoryID           string `toml:"factory_id"`
	SchedulerID         string `toml:"scheduler_id"`
	MaxFeeBps           int    `toml:"max_fee_bps"`
	MinInitialLiquidity int64  `toml:"min_initial_liquidity"`
}

// SchedulerConfig holds the settlement scheduler's scan bounds and trigger
// cadence.
type SchedulerConfig struct {
	LookbackDays    int      `toml:"lookback_days"`
	Lookahead       duration `toml:"lookahead"`
	ResolveBatchCap int      `toml:"resolve_batch_cap"`
	CleanupBatchCap int      `toml:"cleanup_batch_cap"`
	BucketMinAge    duration `toml:"bucket_min_age"`
	TickInterval    duration `toml:"tick_interval"`
}

// OracleConfig holds price-oracle validation bounds.
type OracleConfig struct {
	MaxStaleness  duration `toml:"max_staleness"`
	MaxScanRounds int      `toml:"max_scan_rounds"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the round cache.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	RoundTTL   duration `toml:"round_ttl"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// archives.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the upstream price-feed websocket parameters.
type FeedConfig struct {
	WSURL string   `toml:"ws_url"`
	Refs  []string `toml:"refs"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// scheduler and oracle bounds default to the documented cost-control
// constants.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			FactoryID:           "factory",
			SchedulerID:         "scheduler",
			MaxFeeBps:           500,
			MinInitialLiquidity: 100_000_000, // 100 units at 6 decimals
		},
		Scheduler: SchedulerConfig{
			LookbackDays:    3,
			Lookahead:       duration{time.Hour},
			ResolveBatchCap: 25,
			CleanupBatchCap: 4,
			BucketMinAge:    duration{48 * time.Hour},
			TickInterval:    duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			MaxStaleness:  duration{4 * time.Hour},
			MaxScanRounds: 500,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settlecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			RoundTTL:   duration{15 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settlecore-archive",
			ForcePathStyle: true,
		},
		Mode:     "standalone",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internal consistency. It returns an
// error describing the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "engine", "standalone":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Engine.FactoryID == "" {
		return fmt.Errorf("config: engine.factory_id is required")
	}
	if c.Engine.SchedulerID == "" {
		return fmt.Errorf("config: engine.scheduler_id is required")
	}
	if c.Engine.MaxFeeBps <= 0 || c.Engine.MaxFeeBps > 10_000 {
		return fmt.Errorf("config: engine.max_fee_bps %d out of range (0, 10000]", c.Engine.MaxFeeBps)
	}
	if c.Engine.MinInitialLiquidity <= 0 {
		return fmt.Errorf("config: engine.min_initial_liquidity must be positive")
	}

	if c.Scheduler.LookbackDays <= 0 {
		return fmt.Errorf("config: scheduler.lookback_days must be positive")
	}
	if c.Scheduler.Lookahead.Duration <= 0 {
		return fmt.Errorf("config: scheduler.lookahead must be positive")
	}
	if c.Scheduler.ResolveBatchCap <= 0 || c.Scheduler.CleanupBatchCap <= 0 {
		return fmt.Errorf("config: scheduler batch caps must be positive")
	}
	if c.Scheduler.BucketMinAge.Duration <= 0 {
		return fmt.Errorf("config: scheduler.bucket_min_age must be positive")
	}
	if c.Scheduler.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: scheduler.tick_interval must be positive")
	}
	if c.Scheduler.TickInterval.Duration > c.Scheduler.Lookahead.Duration {
		return fmt.Errorf("config: scheduler.tick_interval %s exceeds lookahead %s; settlements could be missed",
			c.Scheduler.TickInterval.Duration, c.Scheduler.Lookahead.Duration)
	}

	if c.Oracle.MaxStaleness.Duration <= 0 {
		return fmt.Errorf("config: oracle.max_staleness must be positive")
	}
	if c.Oracle.MaxScanRounds <= 0 {
		return fmt.Errorf("config: oracle.max_scan_rounds must be positive")
	}

	if strings.ToLower(c.Mode) == "engine" {
		if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
			return fmt.Errorf("config: engine mode requires postgres connection parameters")
		}
	}
	if c.S3.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			return fmt.Errorf("config: s3.bucket and s3.region are required when s3 is enabled")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("config: redis.addr is required when redis is enabled")
	}

	return nil
}

// SchedulerTick returns the configured trigger cadence.
func (c *Config) SchedulerTick() time.Duration {
	return c.Scheduler.TickInterval.Duration
}
