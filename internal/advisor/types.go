// Package advisor models the external advisory judgment source. Everything
// it produces is untrusted input: each field is validated and clamped before
// any arithmetic touches it.
package advisor

// Decision is one advisory trading judgment for a single instrument.
type Decision struct {
	Ticker          string  `json:"ticker"`
	Action          string  `json:"action"` // buy/sell/hold after normalization
	Confidence      float64 `json:"confidence"`
	Direction       string  `json:"direction"` // bull/bear
	Reason          string  `json:"reason,omitempty"`
	SuggestedWeight float64 `json:"suggested_weight,omitempty"`
	TakeProfitPct   float64 `json:"take_profit_pct,omitempty"`
	StopLossPct     float64 `json:"stop_loss_pct,omitempty"`
	TimeHorizon     string  `json:"time_horizon,omitempty"` // intraday/swing/position
}

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

const (
	DirectionBull = "bull"
	DirectionBear = "bear"
)

const (
	HorizonIntraday = "intraday"
	HorizonSwing    = "swing"
	HorizonPosition = "position"
)
