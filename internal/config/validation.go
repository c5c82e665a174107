package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Session.validate(); err != nil {
		return err
	}
	if err := c.Stores.validate(); err != nil {
		return err
	}
	if err := c.Feed.validate(); err != nil {
		return err
	}
	if err := c.Optimizer.validate(); err != nil {
		return err
	}
	return nil
}

func (f *FeedConfig) validate() error {
	if strings.TrimSpace(f.BaseURL) == "" {
		return fmt.Errorf("feed.base_url cannot be empty")
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(a.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", a.LogLevel)
	}
	if strings.TrimSpace(a.HTTPAddr) == "" {
		return fmt.Errorf("app.http_addr cannot be empty")
	}
	return nil
}

func (e *EngineConfig) validate() error {
	if e.CycleIntervalSeconds < 10 {
		return fmt.Errorf("engine.cycle_interval_seconds must be >= 10, got %d", e.CycleIntervalSeconds)
	}
	if e.AgreementBonus < 0 || e.AgreementBonus > 1 {
		return fmt.Errorf("engine.agreement_bonus must be within [0,1], got %v", e.AgreementBonus)
	}
	if e.InitialCash <= 0 {
		return fmt.Errorf("engine.initial_cash must be positive, got %v", e.InitialCash)
	}
	return nil
}

func (s *SessionConfig) validate() error {
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("session.timezone is not a valid location: %w", err)
	}
	if s.ClosingWindowMinutes <= 0 || s.ClosingWindowMinutes >= 390 {
		return fmt.Errorf("session.closing_window_minutes must be within (0,390), got %d", s.ClosingWindowMinutes)
	}
	return nil
}

func (s *StoresConfig) validate() error {
	if strings.TrimSpace(s.GlobalParamsPath) == "" {
		return fmt.Errorf("stores.global_params_path cannot be empty")
	}
	if strings.TrimSpace(s.InstrumentParamsPath) == "" {
		return fmt.Errorf("stores.instrument_params_path cannot be empty")
	}
	if s.GlobalParamsPath == s.InstrumentParamsPath {
		return fmt.Errorf("stores.global_params_path and stores.instrument_params_path must differ")
	}
	if strings.TrimSpace(s.AuditDBPath) == "" {
		return fmt.Errorf("stores.audit_db_path cannot be empty")
	}
	return nil
}

func (o *OptimizerConfig) validate() error {
	if !o.Enabled {
		return nil
	}
	if strings.TrimSpace(o.APIURL) == "" {
		return fmt.Errorf("optimizer.api_url is required when the optimizer is enabled")
	}
	if o.ChunkSize <= 0 {
		return fmt.Errorf("optimizer.chunk_size must be positive, got %d", o.ChunkSize)
	}
	if o.CallsPerMinute <= 0 {
		return fmt.Errorf("optimizer.calls_per_minute must be positive, got %v", o.CallsPerMinute)
	}
	return nil
}
