// Package params owns the durable risk-parameter stores: the flat global set
// and the per-instrument override records layered on top of it.
package params

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"etfx/internal/logger"
	"etfx/internal/pkg/convert"
	"etfx/internal/regime"
)

// Global parameter names. Every component reads risk values through these.
const (
	TakeProfitPct        = "take_profit_pct"
	StopLossPct          = "stop_loss_pct"
	TrailingStopPct      = "trailing_stop_pct"
	MinConfidence        = "min_confidence"
	MaxPositionPct       = "max_position_pct"
	MaxTotalExposurePct  = "max_total_exposure_pct"
	MaxDailyTrades       = "max_daily_trades"
	MaxDailyLossPct      = "max_daily_loss_pct"
	MaxHoldDays          = "max_hold_days"
	VIXShutdownThreshold = "vix_shutdown_threshold"
	CloseBeforeMarketEnd = "close_before_market_end"
)

// ErrUnknownParameter marks a lookup or mutation against a name the store
// does not define. This is a caller defect, not a runtime condition.
var ErrUnknownParameter = errors.New("parameter not found")

type paramSpec struct {
	def         any     // float64 or bool
	adjustBound float64 // max relative change per automated adjustment
}

// Every parameter carries the same 10% bound; the bound is per-name so a
// future parameter can tighten or loosen it independently.
var globalSpecs = map[string]paramSpec{
	TakeProfitPct:        {def: 5.0, adjustBound: 0.10},
	StopLossPct:          {def: -2.0, adjustBound: 0.10},
	TrailingStopPct:      {def: 1.5, adjustBound: 0.10},
	MinConfidence:        {def: 0.65, adjustBound: 0.10},
	MaxPositionPct:       {def: 0.15, adjustBound: 0.10},
	MaxTotalExposurePct:  {def: 0.80, adjustBound: 0.10},
	MaxDailyTrades:       {def: 10.0, adjustBound: 0.10},
	MaxDailyLossPct:      {def: -5.0, adjustBound: 0.10},
	MaxHoldDays:          {def: 5.0, adjustBound: 0.10},
	VIXShutdownThreshold: {def: 45.0, adjustBound: 0.10},
	CloseBeforeMarketEnd: {def: true, adjustBound: 0.10},
}

// GlobalStore holds the named global risk parameters and persists every
// successful mutation to a flat JSON document.
type GlobalStore struct {
	mu     sync.RWMutex
	path   string
	values map[string]any

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewGlobalStore loads the store from path. A missing or unreadable file is
// not fatal: the store seeds hardcoded defaults and writes them out.
func NewGlobalStore(path string) (*GlobalStore, error) {
	s := &GlobalStore{path: path, values: defaultValues()}
	values, err := s.readFile()
	if err != nil {
		logger.Warnf("global params: load %s failed (%v), seeding defaults", path, err)
		if werr := s.persist(); werr != nil {
			logger.Errorf("global params: writing seeded defaults failed: %v", werr)
		}
		return s, nil
	}
	s.values = values
	return s, nil
}

// readFile loads the on-disk document and coerces it over the defaults, so
// the result always covers the full parameter set.
func (s *GlobalStore) readFile() (map[string]any, error) {
	loaded := make(map[string]any)
	err := withFileLock(s.path, false, func() error {
		data, err := os.ReadFile(s.path)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &loaded)
	})
	if err != nil {
		return nil, err
	}
	values := defaultValues()
	for name, raw := range loaded {
		spec, ok := globalSpecs[name]
		if !ok {
			logger.Warnf("global params: ignoring unknown parameter %q in %s", name, s.path)
			continue
		}
		if val, ok := coerceTo(spec.def, raw); ok {
			values[name] = val
		} else {
			logger.Warnf("global params: %s has non-conforming value %v, keeping default", name, raw)
		}
	}
	return values, nil
}

// Watch reloads the parameter file when a sibling process rewrites it, so an
// out-of-band Set is not clobbered by the next persist here. Stop with Close.
func (s *GlobalStore) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	s.watcher = w
	s.done = make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				values, err := s.readFile()
				if err != nil {
					logger.Warnf("global params: reload after external write failed: %v", err)
					continue
				}
				s.mu.Lock()
				s.values = values
				s.mu.Unlock()
				logger.Infof("global params: reloaded %s after external write", s.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("global params: watcher error: %v", err)
			case <-s.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (s *GlobalStore) Close() {
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	if s.watcher != nil {
		s.watcher.Close()
		s.watcher = nil
	}
}

func defaultValues() map[string]any {
	out := make(map[string]any, len(globalSpecs))
	for name, spec := range globalSpecs {
		out[name] = spec.def
	}
	return out
}

// coerceTo normalizes raw into the same kind as the parameter's default.
func coerceTo(def any, raw any) (any, bool) {
	switch def.(type) {
	case bool:
		b, ok := convert.ToBool(raw)
		return b, ok
	default:
		f, ok := convert.ToFloat64(raw)
		return f, ok
	}
}

// Get returns the current numeric value for name.
func (s *GlobalStore) Get(name string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	f, ok := convert.ToFloat64(raw)
	if !ok {
		return 0, fmt.Errorf("parameter %s is not numeric", name)
	}
	return f, nil
}

// GetBool returns the current boolean value for name.
func (s *GlobalStore) GetBool(name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.values[name]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	b, ok := convert.ToBool(raw)
	if !ok {
		return false, fmt.Errorf("parameter %s is not boolean", name)
	}
	return b, nil
}

// Set writes a new value for name and persists the full set. Callers applying
// values from an automated feedback process must call ValidateAdjustment
// first; Set itself only rejects unknown names and kind mismatches so direct
// manual configuration stays possible.
func (s *GlobalStore) Set(name string, value any) error {
	spec, ok := globalSpecs[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	val, ok := coerceTo(spec.def, value)
	if !ok {
		return fmt.Errorf("parameter %s: incompatible value %v", name, value)
	}
	s.mu.Lock()
	old := s.values[name]
	s.values[name] = val
	s.mu.Unlock()
	logger.Infof("global params: %s %v -> %v", name, old, val)
	if err := s.persist(); err != nil {
		// The in-memory value stays authoritative; the next successful
		// persist rewrites the whole document anyway.
		logger.Errorf("global params: persist failed: %v", err)
	}
	return nil
}

// ValidateAdjustment reports whether moving name from old to new stays inside
// the parameter's adjustment bound. The relative change is measured against
// |old|, or absolutely when old is zero, so the check is symmetric in sign.
func (s *GlobalStore) ValidateAdjustment(name string, old, new float64) bool {
	spec, ok := globalSpecs[name]
	if !ok {
		return false
	}
	if _, isBool := spec.def.(bool); isBool {
		return true // toggles have no meaningful ratio
	}
	diff := math.Abs(new - old)
	if old == 0 {
		return diff <= spec.adjustBound
	}
	return diff/math.Abs(old) <= spec.adjustBound+1e-12
}

// Snapshot returns a copy of all current values.
func (s *GlobalStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// RegimeConfig pairs the regime classifier with the regime-specific override
// table, falling back to crash semantics when vix matches nothing.
func (s *GlobalStore) RegimeConfig(vix float64) regime.Profile {
	return regime.Config(vix)
}

func (s *GlobalStore) persist() error {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return withFileLock(s.path, true, func() error {
		return writeFileAtomic(s.path, data)
	})
}

// IsKnown reports whether name is a defined global parameter.
func IsKnown(name string) bool {
	_, ok := globalSpecs[name]
	return ok
}

// IsBoolParam reports whether name holds a boolean value.
func IsBoolParam(name string) bool {
	spec, ok := globalSpecs[name]
	if !ok {
		return false
	}
	_, isBool := spec.def.(bool)
	return isBool
}
