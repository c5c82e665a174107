// Package regime classifies market stress from a volatility index reading.
package regime

import "time"

// Regime is a discrete market-condition bucket, ordered from calmest to most
// stressed.
type Regime string

const (
	Calm      Regime = "calm"
	Normal    Regime = "normal"
	Elevated  Regime = "elevated"
	Turbulent Regime = "turbulent"
	Crash     Regime = "crash"
)

// Strategy names the trading posture a regime implies.
type Strategy string

const (
	StrategyNormal    Strategy = "normal"
	StrategyCautious  Strategy = "cautious"
	StrategyDefensive Strategy = "defensive"
	StrategyHalt      Strategy = "halt"
)

// Profile bundles the per-regime trading parameters.
type Profile struct {
	Regime         Regime
	VIXMin         float64 // inclusive
	VIXMax         float64 // exclusive; <=0 means unbounded
	Strategy       Strategy
	ExposureScale  float64 // position-size multiplier applied after confidence sizing
	TakeProfitPct  float64 // regime take-profit target, percent
	MaxHoldDays    int
	MaxExposurePct float64 // recommended share of portfolio at risk
}

// profiles partitions [0, +inf) with half-open intervals. Order matters: the
// first matching interval wins, and anything unmatched resolves to Crash.
var profiles = []Profile{
	{Regime: Calm, VIXMin: 0, VIXMax: 15, Strategy: StrategyNormal, ExposureScale: 1.0, TakeProfitPct: 6.0, MaxHoldDays: 5, MaxExposurePct: 0.80},
	{Regime: Normal, VIXMin: 15, VIXMax: 20, Strategy: StrategyNormal, ExposureScale: 0.85, TakeProfitPct: 5.0, MaxHoldDays: 5, MaxExposurePct: 0.70},
	{Regime: Elevated, VIXMin: 20, VIXMax: 28, Strategy: StrategyCautious, ExposureScale: 0.6, TakeProfitPct: 4.0, MaxHoldDays: 3, MaxExposurePct: 0.50},
	{Regime: Turbulent, VIXMin: 28, VIXMax: 40, Strategy: StrategyDefensive, ExposureScale: 0.3, TakeProfitPct: 3.0, MaxHoldDays: 2, MaxExposurePct: 0.25},
	{Regime: Crash, VIXMin: 40, VIXMax: 0, Strategy: StrategyHalt, ExposureScale: 0, TakeProfitPct: 2.0, MaxHoldDays: 1, MaxExposurePct: 0},
}

// Classify maps a volatility index value to its regime. Negative or otherwise
// unmatched input resolves to Crash: when the reading makes no sense the safe
// assumption is maximum stress.
func Classify(vix float64) Regime {
	return Config(vix).Regime
}

// Config returns the full profile for the regime containing vix, falling back
// to Crash semantics when nothing matches.
func Config(vix float64) Profile {
	if vix >= 0 {
		for _, p := range profiles {
			if vix >= p.VIXMin && (p.VIXMax <= 0 || vix < p.VIXMax) {
				return p
			}
		}
	}
	return profiles[len(profiles)-1]
}

// Profiles returns a copy of the full regime table, calmest first.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	copy(out, profiles)
	return out
}

// Snapshot is the transient regime state recomputed each evaluation cycle.
type Snapshot struct {
	Regime         Regime    `json:"regime"`
	VIX            float64   `json:"vix"`
	Confidence     float64   `json:"confidence"`
	MaxExposurePct float64   `json:"max_exposure_pct"`
	ObservedAt     time.Time `json:"observed_at"`
}

// Observe classifies vix and records how firmly it sits inside its band. A
// reading near a boundary gets lower confidence than one in the middle.
func Observe(vix float64, now time.Time) Snapshot {
	p := Config(vix)
	return Snapshot{
		Regime:         p.Regime,
		VIX:            vix,
		Confidence:     bandConfidence(vix, p),
		MaxExposurePct: p.MaxExposurePct,
		ObservedAt:     now,
	}
}

func bandConfidence(vix float64, p Profile) float64 {
	if vix < 0 {
		return 1.0 // fail-safe classification, treated as certain
	}
	if p.VIXMax <= 0 {
		return 1.0 // open-ended top bucket
	}
	span := p.VIXMax - p.VIXMin
	if span <= 0 {
		return 1.0
	}
	mid := p.VIXMin + span/2
	dist := vix - mid
	if dist < 0 {
		dist = -dist
	}
	conf := 1.0 - dist/span
	if conf < 0.5 {
		conf = 0.5
	}
	return conf
}
