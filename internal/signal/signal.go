// Package signal carries the per-instrument composite output of the
// indicator aggregation service.
package signal

import "strings"

// Direction is the aggregated indicator lean.
type Direction string

const (
	Buy     Direction = "buy"
	Sell    Direction = "sell"
	Neutral Direction = "neutral"
)

// Signal is one instrument's composite indicator summary.
type Signal struct {
	Ticker     string    `json:"ticker"`
	Score      float64   `json:"score"` // composite score, negative bearish
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
}

// Normalize coerces an arbitrary direction string onto the enum; anything
// unrecognized reads as neutral.
func Normalize(dir string) Direction {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case "buy", "long", "bullish":
		return Buy
	case "sell", "short", "bearish":
		return Sell
	default:
		return Neutral
	}
}

// Index keys a signal slice by upper-cased ticker; the last entry wins.
func Index(signals []Signal) map[string]Signal {
	out := make(map[string]Signal, len(signals))
	for _, s := range signals {
		t := strings.ToUpper(strings.TrimSpace(s.Ticker))
		if t == "" {
			continue
		}
		s.Ticker = t
		s.Direction = Normalize(string(s.Direction))
		out[t] = s
	}
	return out
}
