// Package universe holds the static leveraged-ETF reference data.
package universe

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Direction classifies which way an instrument is levered.
type Direction string

const (
	Bull Direction = "bull"
	Bear Direction = "bear"
)

// Entry is one tradable instrument. InversePair optionally names the
// opposite-direction counterpart used for direction substitution.
type Entry struct {
	Ticker      string    `yaml:"ticker"`
	Name        string    `yaml:"name"`
	Direction   Direction `yaml:"direction"`
	Leverage    int       `yaml:"leverage"`
	Sector      string    `yaml:"sector"`
	Enabled     bool      `yaml:"enabled"`
	InversePair string    `yaml:"inverse_pair,omitempty"`
}

// Universe is an immutable lookup over the reference entries.
type Universe struct {
	entries map[string]Entry
}

// Default is the built-in instrument set, used when no universe file is
// configured.
func Default() *Universe {
	u, _ := New([]Entry{
		{Ticker: "TQQQ", Name: "ProShares UltraPro QQQ", Direction: Bull, Leverage: 3, Sector: "tech", Enabled: true, InversePair: "SQQQ"},
		{Ticker: "SQQQ", Name: "ProShares UltraPro Short QQQ", Direction: Bear, Leverage: 3, Sector: "tech", Enabled: true, InversePair: "TQQQ"},
		{Ticker: "SOXL", Name: "Direxion Daily Semiconductor Bull 3X", Direction: Bull, Leverage: 3, Sector: "semis", Enabled: true, InversePair: "SOXS"},
		{Ticker: "SOXS", Name: "Direxion Daily Semiconductor Bear 3X", Direction: Bear, Leverage: 3, Sector: "semis", Enabled: true, InversePair: "SOXL"},
		{Ticker: "UPRO", Name: "ProShares UltraPro S&P 500", Direction: Bull, Leverage: 3, Sector: "broad", Enabled: true, InversePair: "SPXU"},
		{Ticker: "SPXU", Name: "ProShares UltraPro Short S&P 500", Direction: Bear, Leverage: 3, Sector: "broad", Enabled: true, InversePair: "UPRO"},
		{Ticker: "TSLL", Name: "Direxion Daily TSLA Bull 2X", Direction: Bull, Leverage: 2, Sector: "auto", Enabled: true},
		{Ticker: "NVDL", Name: "GraniteShares 2x Long NVDA", Direction: Bull, Leverage: 2, Sector: "semis", Enabled: true},
	})
	return u
}

// New builds a universe from entries and checks the inverse pairing is
// consistent: a referenced counterpart must exist and point the other way.
func New(entries []Entry) (*Universe, error) {
	if len(entries) == 0 {
		return nil, errors.New("universe is empty")
	}
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		t := strings.ToUpper(strings.TrimSpace(e.Ticker))
		if t == "" {
			return nil, errors.New("universe entry without ticker")
		}
		if e.Direction != Bull && e.Direction != Bear {
			return nil, fmt.Errorf("universe entry %s: direction must be bull or bear, got %q", t, e.Direction)
		}
		e.Ticker = t
		e.InversePair = strings.ToUpper(strings.TrimSpace(e.InversePair))
		if _, dup := m[t]; dup {
			return nil, fmt.Errorf("duplicate universe entry %s", t)
		}
		m[t] = e
	}
	for _, e := range m {
		if e.InversePair == "" {
			continue
		}
		pair, ok := m[e.InversePair]
		if !ok {
			return nil, fmt.Errorf("universe entry %s references unknown inverse pair %s", e.Ticker, e.InversePair)
		}
		if pair.Direction == e.Direction {
			return nil, fmt.Errorf("universe entries %s and %s are paired but share direction %s", e.Ticker, pair.Ticker, e.Direction)
		}
	}
	return &Universe{entries: m}, nil
}

// LoadFile reads a YAML universe document (a list of entries).
func LoadFile(path string) (*Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading universe file: %w", err)
	}
	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing universe file: %w", err)
	}
	return New(entries)
}

// Lookup returns the entry for ticker. Lookups are case-insensitive.
func (u *Universe) Lookup(ticker string) (Entry, bool) {
	e, ok := u.entries[strings.ToUpper(strings.TrimSpace(ticker))]
	return e, ok
}

// Contains reports whether ticker is a known, enabled instrument.
func (u *Universe) Contains(ticker string) bool {
	e, ok := u.Lookup(ticker)
	return ok && e.Enabled
}

// Inverse returns the opposite-direction counterpart of ticker, if one is
// defined and enabled.
func (u *Universe) Inverse(ticker string) (Entry, bool) {
	e, ok := u.Lookup(ticker)
	if !ok || e.InversePair == "" {
		return Entry{}, false
	}
	pair, ok := u.entries[e.InversePair]
	if !ok || !pair.Enabled {
		return Entry{}, false
	}
	return pair, true
}

// Tickers lists enabled tickers in stable order.
func (u *Universe) Tickers() []string {
	out := make([]string, 0, len(u.entries))
	for t, e := range u.entries {
		if e.Enabled {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}
