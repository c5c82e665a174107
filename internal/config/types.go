package config

import "strings"

// Config is the full etfx configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Engine    EngineConfig    `toml:"engine"`
	Session   SessionConfig   `toml:"session"`
	Stores    StoresConfig    `toml:"stores"`
	Universe  UniverseConfig  `toml:"universe"`
	Feed      FeedConfig      `toml:"feed"`
	Optimizer OptimizerConfig `toml:"optimizer"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// EngineConfig controls the evaluation loop.
type EngineConfig struct {
	CycleIntervalSeconds int     `toml:"cycle_interval_seconds"`
	AgreementBonus       float64 `toml:"agreement_bonus"`
	InitialCash          float64 `toml:"initial_cash"`
}

// SessionConfig locates the trading session on the wall clock.
type SessionConfig struct {
	Timezone             string `toml:"timezone"`
	ClosingWindowMinutes int    `toml:"closing_window_minutes"`
}

// StoresConfig names the on-disk state files.
type StoresConfig struct {
	GlobalParamsPath     string `toml:"global_params_path"`
	InstrumentParamsPath string `toml:"instrument_params_path"`
	AuditDBPath          string `toml:"audit_db_path"`
}

type UniverseConfig struct {
	Path string `toml:"path"`
}

// FeedConfig points at the companion data service.
type FeedConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OptimizerConfig drives the bulk parameter re-optimization job.
type OptimizerConfig struct {
	Enabled        bool    `toml:"enabled"`
	APIURL         string  `toml:"api_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	ChunkSize      int     `toml:"chunk_size"`
	CallsPerMinute float64 `toml:"calls_per_minute"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// keySet tracks the field paths explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes the defaulting rule for a single field.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
