package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAction(t *testing.T) {
	assert.Equal(t, ActionBuy, NormalizeAction(" BUY "))
	assert.Equal(t, ActionBuy, NormalizeAction("long"))
	assert.Equal(t, ActionSell, NormalizeAction("Short"))
	assert.Equal(t, ActionHold, NormalizeAction("wait"))
	assert.Equal(t, "yolo", NormalizeAction("YOLO"))
}

func TestSanitizeSubstitutesSafeDefaults(t *testing.T) {
	d := Sanitize(Decision{
		Ticker:      " tqqq ",
		Action:      "accumulate",
		Confidence:  1.7,
		Direction:   "sideways",
		TimeHorizon: "decade",
	})
	assert.Equal(t, "TQQQ", d.Ticker)
	assert.Equal(t, ActionHold, d.Action, "unrecognized entry action biases to no action")
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, DirectionBull, d.Direction)
	assert.Equal(t, HorizonSwing, d.TimeHorizon)
}

func TestSanitizeClampsSuggestedLevels(t *testing.T) {
	d := Sanitize(Decision{
		Ticker:        "SOXL",
		Action:        "buy",
		Confidence:    -0.2,
		TakeProfitPct: 400,
		StopLossPct:   3, // positive stop-loss makes no sense
	})
	assert.Zero(t, d.Confidence)
	assert.Zero(t, d.TakeProfitPct)
	assert.Zero(t, d.StopLossPct)
}

func TestSanitizeKeepsValidDecisionIntact(t *testing.T) {
	in := Decision{
		Ticker:        "TQQQ",
		Action:        "buy",
		Confidence:    0.82,
		Direction:     "bull",
		TimeHorizon:   "intraday",
		TakeProfitPct: 5,
		StopLossPct:   -2,
	}
	assert.Equal(t, in, Sanitize(in))
}

func TestSanitizeExitDefaultsToSell(t *testing.T) {
	d := SanitizeExit(Decision{Ticker: "TQQQ", Action: "???", Confidence: 0.5})
	assert.Equal(t, ActionSell, d.Action, "unrecognized exit decision defaults to exit")

	held := SanitizeExit(Decision{Ticker: "TQQQ", Action: "hold", Confidence: 0.5})
	assert.Equal(t, ActionHold, held.Action)
}

func TestParseDecisions(t *testing.T) {
	raw := `Based on the current setup I recommend the following:
[
  {"ticker": "TQQQ", "action": "buy", "confidence": 0.8, "direction": "bull"},
  {"ticker": "", "action": "buy", "confidence": 0.9},
  {"ticker": "SOXS", "action": "flip", "confidence": 2.5, "direction": "bear"}
]
Good luck.`
	ds, err := ParseDecisions(raw)
	require.NoError(t, err)
	require.Len(t, ds, 2, "entry without ticker is dropped")

	assert.Equal(t, "TQQQ", ds[0].Ticker)
	assert.Equal(t, ActionBuy, ds[0].Action)

	assert.Equal(t, "SOXS", ds[1].Ticker)
	assert.Equal(t, ActionHold, ds[1].Action, "unknown action sanitized to hold")
	assert.Equal(t, 1.0, ds[1].Confidence)
}

func TestParseDecisionsNoArray(t *testing.T) {
	_, err := ParseDecisions("nothing to see here")
	assert.Error(t, err)

	_, err = ParseDecisions("[]")
	assert.Error(t, err)
}

func TestParseRecommendations(t *testing.T) {
	raw := `Here are the tuned parameters:
{
  "TQQQ": {"params": {"take_profit_pct": 6.5, "min_confidence": 0.7}, "reasoning": "strong trend"},
  "SQQQ": {"params": {"stop_loss_pct": -1.5}}
}`
	payload, err := ParseRecommendations(raw)
	require.NoError(t, err)
	require.Len(t, payload, 2)
	assert.Equal(t, 6.5, payload["TQQQ"].Params["take_profit_pct"])
	assert.Equal(t, "strong trend", payload["TQQQ"].Reasoning)
}

func TestParseRecommendationsRejectsBadShape(t *testing.T) {
	_, err := ParseRecommendations(`{"TQQQ": {"params": {"take_profit_pct": "six"}}}`)
	assert.Error(t, err, "non-numeric parameter values fail the schema")

	_, err = ParseRecommendations(`{"TQQQ": {"reasoning": "no params"}}`)
	assert.Error(t, err)

	_, err = ParseRecommendations("no json at all")
	assert.Error(t, err)
}
