// Package engine turns advisory decisions into sized order candidates and
// open positions into exit instructions.
package engine

import (
	"etfx/internal/universe"
)

// OrderType selects how the execution layer should place the order.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// Urgency tells the execution layer how fast an exit must happen.
type Urgency string

const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyNormal    Urgency = "normal"
)

// Trigger identifies which exit rule fired. Downstream auditing and the
// precedence tests key off these tags.
type Trigger string

const (
	TriggerStopLoss     Trigger = "stop_loss"
	TriggerTrailingStop Trigger = "trailing_stop"
	TriggerVIXEmergency Trigger = "vix_emergency"
	TriggerTakeProfit   Trigger = "take_profit"
	TriggerHoldDecayD3  Trigger = "hold_decay_d3"
	TriggerHoldDecayD4  Trigger = "hold_decay_d4"
	TriggerHoldDecayD5  Trigger = "hold_decay_d5"
	TriggerSessionClose Trigger = "session_close"
)

// RiskSource tags where each risk value on a candidate was resolved from.
type RiskSource string

const (
	RiskFromUser   RiskSource = "user_override"
	RiskFromAI     RiskSource = "ai_recommended"
	RiskFromRegime RiskSource = "regime_default"
	RiskFromGlobal RiskSource = "global_default"
)

// OrderCandidate is a sized, validated buy proposal. Candidates live for one
// evaluation cycle; the audit log keeps the durable trace.
type OrderCandidate struct {
	TraceID            string             `json:"trace_id"`
	Ticker             string             `json:"ticker"`
	Side               string             `json:"side"` // always "buy"
	Direction          universe.Direction `json:"direction"`
	Quantity           int                `json:"quantity"`
	OrderType          OrderType          `json:"order_type"`
	Price              float64            `json:"price"`
	AdjustedConfidence float64            `json:"adjusted_confidence"`

	TakeProfitPct   float64 `json:"take_profit_pct"`
	StopLossPct     float64 `json:"stop_loss_pct"`
	TrailingStopPct float64 `json:"trailing_stop_pct"`
	MaxHoldDays     int     `json:"max_hold_days"`

	RiskProvenance map[string]RiskSource `json:"risk_provenance"`
	Reason         string                `json:"reason,omitempty"`
	Substituted    bool                  `json:"substituted,omitempty"` // inverse-pair swap applied
}

// ExitInstruction is the single exit decision for one position evaluation.
type ExitInstruction struct {
	TraceID  string  `json:"trace_id"`
	Ticker   string  `json:"ticker"`
	Action   string  `json:"action"` // always "sell"
	Quantity int     `json:"quantity"`
	Reason   string  `json:"reason"`
	Urgency  Urgency `json:"urgency"`
	Trigger  Trigger `json:"trigger"`
}

// AuditSink receives every emitted candidate and instruction. Sinks must be
// best-effort; evaluation never fails on audit errors.
type AuditSink interface {
	RecordCandidate(c OrderCandidate) error
	RecordExit(ins ExitInstruction) error
}
