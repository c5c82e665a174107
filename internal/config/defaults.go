package config

import "strings"

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppLogPath       = "/data/logs/etfx.log"
	defaultAppHTTPAddr      = ":9980"
	defaultCycleInterval    = 300
	defaultAgreementBonus   = 0.1
	defaultInitialCash      = 100000
	defaultSessionTimezone  = "America/New_York"
	defaultClosingWindowMin = 15
	defaultGlobalParamsPath = "/data/etfx/global_params.json"
	defaultInstrumentsPath  = "/data/etfx/instrument_params.json"
	defaultAuditDBPath      = "/data/etfx/audit.db"
	defaultUniversePath     = "configs/universe.yaml"
	defaultFeedBaseURL      = "http://localhost:9310"
	defaultFeedTimeout      = 15
	defaultOptimizerChunk   = 4
	defaultOptimizerRate    = 6
	defaultOptimizerTimeout = 120
	defaultOptimizerModel   = "gpt-4o-mini"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Session.applyDefaults(keys)
	c.Stores.applyDefaults(keys)
	c.Universe.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Optimizer.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.cycle_interval_seconds",
			need:  func() bool { return e.CycleIntervalSeconds <= 0 },
			apply: func() { e.CycleIntervalSeconds = defaultCycleInterval },
		},
		fieldDefault{
			key:   "engine.agreement_bonus",
			need:  func() bool { return e.AgreementBonus <= 0 },
			apply: func() { e.AgreementBonus = defaultAgreementBonus },
		},
		fieldDefault{
			key:   "engine.initial_cash",
			need:  func() bool { return e.InitialCash <= 0 },
			apply: func() { e.InitialCash = defaultInitialCash },
		},
	)
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("session.timezone", &s.Timezone, defaultSessionTimezone),
		fieldDefault{
			key:   "session.closing_window_minutes",
			need:  func() bool { return s.ClosingWindowMinutes <= 0 },
			apply: func() { s.ClosingWindowMinutes = defaultClosingWindowMin },
		},
	)
}

func (s *StoresConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("stores.global_params_path", &s.GlobalParamsPath, defaultGlobalParamsPath),
		stringFieldDefault("stores.instrument_params_path", &s.InstrumentParamsPath, defaultInstrumentsPath),
		stringFieldDefault("stores.audit_db_path", &s.AuditDBPath, defaultAuditDBPath),
	)
}

func (u *UniverseConfig) applyDefaults(keys keySet) {
	if u == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("universe.path", &u.Path, defaultUniversePath),
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("feed.base_url", &f.BaseURL, defaultFeedBaseURL),
		fieldDefault{
			key:   "feed.timeout_seconds",
			need:  func() bool { return f.TimeoutSeconds <= 0 },
			apply: func() { f.TimeoutSeconds = defaultFeedTimeout },
		},
	)
}

func (o *OptimizerConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("optimizer.model", &o.Model, defaultOptimizerModel),
		fieldDefault{
			key:   "optimizer.chunk_size",
			need:  func() bool { return o.ChunkSize <= 0 },
			apply: func() { o.ChunkSize = defaultOptimizerChunk },
		},
		fieldDefault{
			key:   "optimizer.calls_per_minute",
			need:  func() bool { return o.CallsPerMinute <= 0 },
			apply: func() { o.CallsPerMinute = defaultOptimizerRate },
		},
		fieldDefault{
			key:   "optimizer.timeout_seconds",
			need:  func() bool { return o.TimeoutSeconds <= 0 },
			apply: func() { o.TimeoutSeconds = defaultOptimizerTimeout },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
