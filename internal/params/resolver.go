package params

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"etfx/internal/logger"
	"etfx/internal/pkg/convert"
)

// Provenance tags where an effective value came from, making the three-tier
// precedence auditable per field.
type Provenance string

const (
	ProvenanceUser   Provenance = "user_override"
	ProvenanceAI     Provenance = "ai_recommended"
	ProvenanceGlobal Provenance = "global_default"
)

// overridableKeys is the fixed whitelist of parameters that may be tuned per
// instrument. Anything else always resolves from the global store.
var overridableKeys = []string{
	TakeProfitPct,
	StopLossPct,
	TrailingStopPct,
	MinConfidence,
	MaxPositionPct,
	MaxHoldDays,
	CloseBeforeMarketEnd,
}

// IsOverridable reports whether key belongs to the per-instrument whitelist.
func IsOverridable(key string) bool {
	for _, k := range overridableKeys {
		if k == key {
			return true
		}
	}
	return false
}

// OverridableKeys returns a copy of the whitelist.
func OverridableKeys() []string {
	out := make([]string, len(overridableKeys))
	copy(out, overridableKeys)
	return out
}

// Record is the per-instrument override state. Records are created lazily on
// the first AI recommendation or user override and never deleted, only
// cleared.
type Record struct {
	AIRecommended map[string]any `json:"ai_recommended,omitempty"`
	AIReasoning   string         `json:"ai_reasoning,omitempty"`
	AIAnalysis    map[string]any `json:"ai_analysis,omitempty"`
	AIUpdatedAt   time.Time      `json:"ai_updated_at,omitempty"`
	UserOverride  map[string]any `json:"user_override,omitempty"`
	UserUpdatedAt time.Time      `json:"user_updated_at,omitempty"`
}

func (r *Record) clone() *Record {
	if r == nil {
		return &Record{}
	}
	out := &Record{
		AIReasoning:   r.AIReasoning,
		AIUpdatedAt:   r.AIUpdatedAt,
		UserUpdatedAt: r.UserUpdatedAt,
	}
	out.AIRecommended = cloneMap(r.AIRecommended)
	out.AIAnalysis = cloneMap(r.AIAnalysis)
	out.UserOverride = cloneMap(r.UserOverride)
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Recommendation is one instrument's slice of a bulk AI re-optimization
// result.
type Recommendation struct {
	Params    map[string]any
	Reasoning string
	Analysis  map[string]any
}

// TickerDetail exposes the full resolution state of one instrument for
// auditing: effective values, per-key provenance, and the raw record.
type TickerDetail struct {
	Ticker     string                `json:"ticker"`
	Effective  map[string]any        `json:"effective"`
	Provenance map[string]Provenance `json:"provenance"`
	Record     Record                `json:"record"`
}

// Resolver resolves effective per-instrument parameters over the global
// store and manages the override lifecycle.
type Resolver struct {
	global *GlobalStore
	path   string

	mu      sync.RWMutex
	records map[string]*Record

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewResolver loads the per-instrument record file. A corrupt or missing
// file degrades to an empty in-memory store rather than failing startup.
func NewResolver(global *GlobalStore, path string) (*Resolver, error) {
	if global == nil {
		return nil, fmt.Errorf("resolver requires a global store")
	}
	r := &Resolver{global: global, path: path, records: make(map[string]*Record)}
	if loaded, err := r.readFile(); err != nil {
		logger.Warnf("instrument params: load %s failed (%v), starting empty", path, err)
	} else {
		r.records = loaded
	}
	return r, nil
}

// Watch reloads the record file when a sibling process rewrites it. Stop with
// Close.
func (r *Resolver) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := r.path
	if idx := strings.LastIndexByte(dir, '/'); idx >= 0 {
		dir = dir[:idx]
	} else {
		dir = "."
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return err
	}
	r.watcher = w
	r.done = make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != r.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				loaded, err := r.readFile()
				if err != nil {
					logger.Warnf("instrument params: reload after external write failed: %v", err)
					continue
				}
				r.mu.Lock()
				r.records = loaded
				r.mu.Unlock()
				logger.Infof("instrument params: reloaded %s after external write", r.path)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("instrument params: watcher error: %v", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

// Close stops the file watcher if one is running.
func (r *Resolver) Close() {
	if r.done != nil {
		close(r.done)
		r.done = nil
	}
	if r.watcher != nil {
		r.watcher.Close()
		r.watcher = nil
	}
}

func (r *Resolver) readFile() (map[string]*Record, error) {
	out := make(map[string]*Record)
	err := withFileLock(r.path, false, func() error {
		data, err := os.ReadFile(r.path)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// mutate runs fn against the on-disk state under an exclusive lock, writes
// the result back, and adopts it as the in-memory state. When the disk read
// fails the in-memory records serve as the base so a transient I/O error
// cannot drop overrides.
func (r *Resolver) mutate(fn func(map[string]*Record)) error {
	return withFileLock(r.path, true, func() error {
		base := make(map[string]*Record)
		data, err := os.ReadFile(r.path)
		if err == nil {
			if uerr := json.Unmarshal(data, &base); uerr != nil {
				logger.Warnf("instrument params: %s is corrupt (%v), rebuilding from memory", r.path, uerr)
				base = r.snapshotRecords()
			}
		} else if !os.IsNotExist(err) {
			logger.Warnf("instrument params: read %s failed (%v), using in-memory state", r.path, err)
			base = r.snapshotRecords()
		}

		fn(base)

		out, err := json.MarshalIndent(base, "", "  ")
		if err != nil {
			return err
		}
		if werr := writeFileAtomic(r.path, out); werr != nil {
			logger.Errorf("instrument params: persist failed: %v", werr)
		}
		r.mu.Lock()
		r.records = base
		r.mu.Unlock()
		return nil
	})
}

func (r *Resolver) snapshotRecords() map[string]*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Record, len(r.records))
	for k, v := range r.records {
		out[k] = v.clone()
	}
	return out
}

func (r *Resolver) record(ticker string) *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.records[ticker]
}

func (r *Resolver) globalValue(name string) any {
	if IsBoolParam(name) {
		b, err := r.global.GetBool(name)
		if err != nil {
			return false
		}
		return b
	}
	f, err := r.global.Get(name)
	if err != nil {
		return 0.0
	}
	return f
}

// EffectiveParams resolves the complete overridable parameter map for one
// instrument: global defaults overlaid by ai_recommended overlaid by
// user_override. The result always covers every whitelisted key.
func (r *Resolver) EffectiveParams(ticker string) map[string]any {
	out := make(map[string]any, len(overridableKeys))
	for _, key := range overridableKeys {
		out[key], _ = r.resolve(ticker, key)
	}
	return out
}

// EffectiveParam resolves a single key. Keys outside the overridable
// whitelist always read the global value regardless of per-instrument state.
func (r *Resolver) EffectiveParam(ticker, name string) (any, error) {
	if !IsKnown(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	if !IsOverridable(name) {
		return r.globalValue(name), nil
	}
	val, _ := r.resolve(ticker, name)
	return val, nil
}

func (r *Resolver) resolve(ticker, key string) (any, Provenance) {
	rec := r.record(ticker)
	if rec != nil {
		if raw, ok := rec.UserOverride[key]; ok {
			if val, ok := coerceTo(globalSpecs[key].def, raw); ok {
				return val, ProvenanceUser
			}
		}
		if raw, ok := rec.AIRecommended[key]; ok {
			if val, ok := coerceTo(globalSpecs[key].def, raw); ok {
				return val, ProvenanceAI
			}
		}
	}
	return r.globalValue(key), ProvenanceGlobal
}

// ProvenanceOf reports which tier supplies the effective value for key.
func (r *Resolver) ProvenanceOf(ticker, key string) Provenance {
	if !IsOverridable(key) {
		return ProvenanceGlobal
	}
	_, prov := r.resolve(ticker, key)
	return prov
}

// EffectiveFloat is a typed convenience used on hot evaluation paths.
func (r *Resolver) EffectiveFloat(ticker, name string) float64 {
	val, err := r.EffectiveParam(ticker, name)
	if err != nil {
		return 0
	}
	f, _ := convert.ToFloat64(val)
	return f
}

// EffectiveBool is the boolean counterpart of EffectiveFloat.
func (r *Resolver) EffectiveBool(ticker, name string) bool {
	val, err := r.EffectiveParam(ticker, name)
	if err != nil {
		return false
	}
	b, _ := convert.ToBool(val)
	return b
}

// SetUserOverride validates and merges overrides into the instrument's
// user_override map. Foreign keys fail the whole call, naming both the
// offenders and the allowed set.
func (r *Resolver) SetUserOverride(ticker string, overrides map[string]any) error {
	if len(overrides) == 0 {
		return fmt.Errorf("user override for %s is empty", ticker)
	}
	var invalid []string
	for key := range overrides {
		if !IsOverridable(key) {
			invalid = append(invalid, key)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return fmt.Errorf("invalid override keys %v, allowed keys are %v", invalid, overridableKeys)
	}
	cleaned := make(map[string]any, len(overrides))
	for key, raw := range overrides {
		val, ok := coerceTo(globalSpecs[key].def, raw)
		if !ok {
			return fmt.Errorf("override %s for %s has incompatible value %v", key, ticker, raw)
		}
		cleaned[key] = val
	}
	now := time.Now()
	err := r.mutate(func(recs map[string]*Record) {
		rec := recs[ticker]
		if rec == nil {
			rec = &Record{}
			recs[ticker] = rec
		}
		if rec.UserOverride == nil {
			rec.UserOverride = make(map[string]any, len(cleaned))
		}
		for k, v := range cleaned {
			rec.UserOverride[k] = v
		}
		rec.UserUpdatedAt = now
	})
	if err != nil {
		return err
	}
	logger.Infof("instrument params: user override set for %s: %v", ticker, cleaned)
	return nil
}

// ClearUserOverride removes one key, or the whole override map when key is
// empty, reverting resolution to the AI/global tiers.
func (r *Resolver) ClearUserOverride(ticker, key string) error {
	if key != "" && !IsOverridable(key) {
		return fmt.Errorf("invalid override key %q, allowed keys are %v", key, overridableKeys)
	}
	err := r.mutate(func(recs map[string]*Record) {
		rec := recs[ticker]
		if rec == nil {
			return
		}
		if key == "" {
			rec.UserOverride = nil
		} else {
			delete(rec.UserOverride, key)
			if len(rec.UserOverride) == 0 {
				rec.UserOverride = nil
			}
		}
		rec.UserUpdatedAt = time.Now()
	})
	if err != nil {
		return err
	}
	logger.Infof("instrument params: user override cleared for %s (key=%q)", ticker, key)
	return nil
}

// ApplyAIRecommendations writes a batch of AI-recommended values, reasoning
// and analysis snapshots, leaving any existing user_override untouched. The
// whole batch persists with a single file rewrite, which keeps repeated
// application of the same batch idempotent.
func (r *Resolver) ApplyAIRecommendations(batch map[string]Recommendation) error {
	if len(batch) == 0 {
		return nil
	}
	now := time.Now()
	applied := 0
	err := r.mutate(func(recs map[string]*Record) {
		for ticker, rec := range batch {
			cleaned := make(map[string]any)
			for key, raw := range rec.Params {
				if !IsOverridable(key) {
					logger.Warnf("instrument params: AI recommendation for %s carries non-overridable key %s, skipped", ticker, key)
					continue
				}
				val, ok := coerceTo(globalSpecs[key].def, raw)
				if !ok {
					logger.Warnf("instrument params: AI recommendation %s.%s has non-numeric value %v, skipped", ticker, key, raw)
					continue
				}
				cleaned[key] = val
			}
			if len(cleaned) == 0 {
				continue
			}
			target := recs[ticker]
			if target == nil {
				target = &Record{}
				recs[ticker] = target
			}
			target.AIRecommended = cleaned
			target.AIReasoning = rec.Reasoning
			target.AIAnalysis = cloneMap(rec.Analysis)
			target.AIUpdatedAt = now
			applied++
		}
	})
	if err != nil {
		return err
	}
	logger.Infof("instrument params: applied AI recommendations for %d/%d instruments", applied, len(batch))
	return nil
}

// Detail returns the observability view for one instrument.
func (r *Resolver) Detail(ticker string) TickerDetail {
	detail := TickerDetail{
		Ticker:     ticker,
		Effective:  make(map[string]any, len(overridableKeys)),
		Provenance: make(map[string]Provenance, len(overridableKeys)),
	}
	for _, key := range overridableKeys {
		val, prov := r.resolve(ticker, key)
		detail.Effective[key] = val
		detail.Provenance[key] = prov
	}
	if rec := r.record(ticker); rec != nil {
		detail.Record = *rec.clone()
	}
	return detail
}

// Tickers lists every instrument with a record, sorted for stable output.
func (r *Resolver) Tickers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.records))
	for t := range r.records {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
