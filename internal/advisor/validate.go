package advisor

import (
	"strings"

	"etfx/internal/logger"
)

var validActions = map[string]bool{
	ActionBuy: true, ActionSell: true, ActionHold: true,
}

var validDirections = map[string]bool{
	DirectionBull: true, DirectionBear: true,
}

var validHorizons = map[string]bool{
	HorizonIntraday: true, HorizonSwing: true, HorizonPosition: true,
}

// NormalizeAction lower-cases and maps common aliases onto the three
// canonical actions.
func NormalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	switch a {
	case "long", "enter", "open":
		return ActionBuy
	case "short", "exit", "close":
		return ActionSell
	case "wait", "skip", "none":
		return ActionHold
	}
	return a
}

// Sanitize validates every field of an advisory decision and substitutes
// safe defaults for anything out of spec. It never rejects: an advisory
// judgment the engine cannot interpret becomes a hold (and an exit-context
// judgment defaults to sell, see SanitizeExit). All substitutions log.
func Sanitize(d Decision) Decision {
	out := d
	out.Ticker = strings.ToUpper(strings.TrimSpace(d.Ticker))
	out.Action = NormalizeAction(d.Action)
	if !validActions[out.Action] {
		logger.Warnf("advisor: unrecognized action %q for %s, treating as hold", d.Action, out.Ticker)
		out.Action = ActionHold
	}
	out.Direction = strings.ToLower(strings.TrimSpace(d.Direction))
	if !validDirections[out.Direction] {
		if out.Direction != "" {
			logger.Warnf("advisor: unrecognized direction %q for %s, defaulting to bull", d.Direction, out.Ticker)
		}
		out.Direction = DirectionBull
	}
	out.Confidence = clamp(d.Confidence, 0, 1)
	if out.Confidence != d.Confidence {
		logger.Warnf("advisor: confidence %v for %s clamped to %v", d.Confidence, out.Ticker, out.Confidence)
	}
	out.TimeHorizon = strings.ToLower(strings.TrimSpace(d.TimeHorizon))
	if !validHorizons[out.TimeHorizon] {
		if out.TimeHorizon != "" {
			logger.Warnf("advisor: unrecognized time horizon %q for %s, defaulting to swing", d.TimeHorizon, out.Ticker)
		}
		out.TimeHorizon = HorizonSwing
	}
	out.SuggestedWeight = clamp(d.SuggestedWeight, 0, 1)
	// Suggested exit levels are advisory only; wild values are zeroed so the
	// resolved risk parameters take over instead.
	if out.TakeProfitPct < 0 || out.TakeProfitPct > 50 {
		logger.Warnf("advisor: suggested take-profit %v for %s out of range, ignored", d.TakeProfitPct, out.Ticker)
		out.TakeProfitPct = 0
	}
	if out.StopLossPct > 0 || out.StopLossPct < -20 {
		logger.Warnf("advisor: suggested stop-loss %v for %s out of range, ignored", d.StopLossPct, out.Ticker)
		out.StopLossPct = 0
	}
	return out
}

// SanitizeExit is Sanitize with the fail-safe flipped for the exit context:
// an unrecognized action means "get out", not "stay in".
func SanitizeExit(d Decision) Decision {
	action := NormalizeAction(d.Action)
	out := Sanitize(d)
	if !validActions[action] {
		out.Action = ActionSell
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
