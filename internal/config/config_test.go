package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults failed validation: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"bad mode", func(c *Config) { c.Mode = "batch" }, "unsupported mode"},
		{"empty factory id", func(c *Config) { c.Engine.FactoryID = "" }, "factory_id"},
		{"empty scheduler id", func(c *Config) { c.Engine.SchedulerID = "" }, "scheduler_id"},
		{"fee cap zero", func(c *Config) { c.Engine.MaxFeeBps = 0 }, "max_fee_bps"},
		{"fee cap above 100%", func(c *Config) { c.Engine.MaxFeeBps = 10_001 }, "max_fee_bps"},
		{"zero lookback", func(c *Config) { c.Scheduler.LookbackDays = 0 }, "lookback_days"},
		{"tick longer than lookahead", func(c *Config) { c.Scheduler.TickInterval = duration{2 * time.Hour} }, "tick_interval"},
		{"zero scan rounds", func(c *Config) { c.Oracle.MaxScanRounds = 0 }, "max_scan_rounds"},
		{"engine mode without postgres", func(c *Config) { c.Mode = "engine"; c.Postgres.Host = "" }, "postgres"},
		{"s3 enabled without bucket", func(c *Config) { c.S3.Enabled = true; c.S3.Bucket = "" }, "s3.bucket"},
		{"redis enabled without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantSub)
			}
		})
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "standalone"
log_level = "debug"

[engine]
factory_id = "factory-7"
max_fee_bps = 300

[scheduler]
lookahead = "45m"
tick_interval = "20s"

[oracle]
max_staleness = "2h"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine.FactoryID != "factory-7" {
		t.Errorf("factory id = %q, want factory-7", cfg.Engine.FactoryID)
	}
	if cfg.Engine.MaxFeeBps != 300 {
		t.Errorf("max fee = %d, want 300", cfg.Engine.MaxFeeBps)
	}
	if cfg.Scheduler.Lookahead.Duration != 45*time.Minute {
		t.Errorf("lookahead = %v, want 45m", cfg.Scheduler.Lookahead.Duration)
	}
	if cfg.Oracle.MaxStaleness.Duration != 2*time.Hour {
		t.Errorf("staleness = %v, want 2h", cfg.Oracle.MaxStaleness.Duration)
	}
	// Untouched fields keep their defaults.
	if cfg.Scheduler.ResolveBatchCap != 25 {
		t.Errorf("resolve batch cap = %d, want default 25", cfg.Scheduler.ResolveBatchCap)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SETTLECORE_ENGINE_FACTORY_ID", "env-factory")
	t.Setenv("SETTLECORE_SCHEDULER_LOOKBACK_DAYS", "5")
	t.Setenv("SETTLECORE_ORACLE_MAX_STALENESS", "90m")
	t.Setenv("SETTLECORE_REDIS_ENABLED", "true")
	t.Setenv("SETTLECORE_FEED_REFS", "btc-usd, eth-usd")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Engine.FactoryID != "env-factory" {
		t.Errorf("factory id = %q, want env-factory", cfg.Engine.FactoryID)
	}
	if cfg.Scheduler.LookbackDays != 5 {
		t.Errorf("lookback = %d, want 5", cfg.Scheduler.LookbackDays)
	}
	if cfg.Oracle.MaxStaleness.Duration != 90*time.Minute {
		t.Errorf("staleness = %v, want 90m", cfg.Oracle.MaxStaleness.Duration)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis.enabled not overridden")
	}
	if len(cfg.Feed.Refs) != 2 || cfg.Feed.Refs[1] != "eth-usd" {
		t.Errorf("feed refs = %v, want [btc-usd eth-usd]", cfg.Feed.Refs)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "supersecret"
	cfg.Postgres.DSN = "postgres://u:p@host/db"
	cfg.Redis.Password = "abc"
	cfg.S3.SecretKey = "AKIAEXAMPLEKEY"

	red := cfg.RedactedConfig()
	if strings.Contains(red.Postgres.Password, "supersecret") {
		t.Error("postgres password leaked")
	}
	if red.Postgres.DSN != "<redacted>" {
		t.Errorf("dsn = %q, want redacted", red.Postgres.DSN)
	}
	if red.Redis.Password != "****" {
		t.Errorf("short secret = %q, want fully masked", red.Redis.Password)
	}
	if strings.Contains(red.S3.SecretKey, "EXAMPLE") {
		t.Error("s3 secret leaked")
	}
	// The original is untouched.
	if cfg.Postgres.Password != "supersecret" {
		t.Error("redaction mutated the source config")
	}
}
