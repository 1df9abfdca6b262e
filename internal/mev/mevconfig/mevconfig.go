// Package mevconfig loads the engine's YAML configuration file and
// resolves runtime secrets from the environment.
package mevconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RiskLevel names one of the built-in risk presets; "custom" means the
// operator has overridden individual fields via the config API.
type RiskLevel string

const (
	RiskLow          RiskLevel = "low"
	RiskMedium       RiskLevel = "medium"
	RiskHigh         RiskLevel = "high"
	RiskConservative RiskLevel = "conservative"
	RiskCustom       RiskLevel = "custom"
)

// RiskPreset is one named bundle of risk-manager tuning values.
type RiskPreset struct {
	Level                    RiskLevel `yaml:"level"`
	MaxPositionSOL           float64   `yaml:"max_position_sol"`
	MaxConcurrentPositions   int       `yaml:"max_concurrent_positions"`
	MaxLiquidityContribution float64   `yaml:"max_liquidity_contribution_pct"`
	StopLossPct              float64   `yaml:"stop_loss_pct"`
	TakeProfitPct             float64   `yaml:"take_profit_pct"`
	TrailingStopPct           float64   `yaml:"trailing_stop_pct"`
	TimeLimitMinutes          int       `yaml:"time_limit_minutes"`
	DailyLossLimitSOL         float64   `yaml:"daily_loss_limit_sol"`
}

// riskPresets mirrors the original's set_risk_level preset table exactly.
var riskPresets = map[RiskLevel]RiskPreset{
	RiskLow: {
		Level: RiskLow, MaxPositionSOL: 0.02, MaxConcurrentPositions: 2,
		MaxLiquidityContribution: 5.0, StopLossPct: 15.0, TakeProfitPct: 10.0,
		TrailingStopPct: 8.0, TimeLimitMinutes: 5, DailyLossLimitSOL: 0.1,
	},
	RiskMedium: {
		Level: RiskMedium, MaxPositionSOL: 0.3, MaxConcurrentPositions: 10,
		MaxLiquidityContribution: 10.0, StopLossPct: 10.0, TakeProfitPct: 15.0,
		TrailingStopPct: 8.0, TimeLimitMinutes: 5, DailyLossLimitSOL: 1.0,
	},
	RiskHigh: {
		Level: RiskHigh, MaxPositionSOL: 10.0, MaxConcurrentPositions: 20,
		MaxLiquidityContribution: 50.0, StopLossPct: 10.0, TakeProfitPct: 15.0,
		TrailingStopPct: 8.0, TimeLimitMinutes: 5, DailyLossLimitSOL: 5.0,
	},
	RiskConservative: {
		Level: RiskConservative, MaxPositionSOL: 1.0, MaxConcurrentPositions: 3,
		MaxLiquidityContribution: 10.0, StopLossPct: 15.0, TakeProfitPct: 12.0,
		TrailingStopPct: 10.0, TimeLimitMinutes: 5, DailyLossLimitSOL: 0.5,
	},
}

// PresetByLevel returns the built-in preset for level, defaulting to
// RiskMedium for an unrecognized or empty level (matches the original's
// `_ => medium` match-arm fallback).
func PresetByLevel(level RiskLevel) RiskPreset {
	if preset, ok := riskPresets[level]; ok {
		return preset
	}
	return riskPresets[RiskMedium]
}

// VenueConfig is one configured scanning venue.
type VenueConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Enabled bool   `yaml:"enabled"`
}

// DatabaseConfig points at the Postgres instance backing persistence.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MaxIdleConns   int    `yaml:"max_idle_conns"`
	QueryTimeoutMS int    `yaml:"query_timeout_ms"`
}

// RedisConfig points at the shared blockhash-cache Redis instance.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

// SolanaConfig names the external Solana-facing endpoints the engine talks to.
type SolanaConfig struct {
	RPCURL              string `yaml:"rpc_url"`
	JupiterAggregatorURL string `yaml:"jupiter_aggregator_url"`
	JitoBlockEngineURL   string `yaml:"jito_block_engine_url"`
}

// HTTPConfig tunes the operator-facing HTTP API.
type HTTPConfig struct {
	BindAddr string `yaml:"bind_addr"`
}

// Config is the engine's full runtime configuration as loaded from YAML.
type Config struct {
	LogLevel   string         `yaml:"log_level"`
	RiskLevel  RiskLevel      `yaml:"risk_level"`
	Venues     []VenueConfig  `yaml:"venues"`
	Database   DatabaseConfig `yaml:"database"`
	Redis      RedisConfig    `yaml:"redis"`
	Solana     SolanaConfig   `yaml:"solana"`
	HTTP       HTTPConfig     `yaml:"http"`
}

// applyDefaults fills in zero-valued fields the same way the original
// scheduler config loader does: explicit, field-by-field fallbacks.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RiskLevel == "" {
		cfg.RiskLevel = RiskMedium
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.QueryTimeoutMS == 0 {
		cfg.Database.QueryTimeoutMS = 5000
	}
	if cfg.HTTP.BindAddr == "" {
		cfg.HTTP.BindAddr = ":8080"
	}
}

// Load reads and parses the YAML config file at path, applying defaults
// for any field the file leaves unset.
func Load(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("mevconfig: read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("mevconfig: parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return cfg, nil
}
