package engine

import (
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"etfx/internal/logger"
	"etfx/internal/market"
	"etfx/internal/params"
	"etfx/internal/portfolio"
	"etfx/internal/regime"
)

// Hold-decay schedule: staged liquidation once a position ages past the
// decay threshold.
const (
	decayStartDays   = 3
	decayStageOneRat = 0.50
	decayStageTwoRat = 0.75
)

// ExitEvaluator checks one open position against the exit rules. The rules
// run in a fixed priority order and the first match wins; reordering them is
// a correctness bug, not a style choice.
type ExitEvaluator struct {
	global   *params.GlobalStore
	resolver *params.Resolver
	clock    market.Clock
	audit    AuditSink
}

// NewExitEvaluator wires the evaluator. audit may be nil.
func NewExitEvaluator(global *params.GlobalStore, resolver *params.Resolver, clock market.Clock, audit AuditSink) *ExitEvaluator {
	return &ExitEvaluator{global: global, resolver: resolver, clock: clock, audit: audit}
}

// Evaluate returns at most one exit instruction for the position, or nil
// when no rule fires. Incomplete positions (bad entry price or quantity) and
// unknown current prices are skipped with a warning, never an error.
func (e *ExitEvaluator) Evaluate(pos portfolio.Position, current float64, prof regime.Profile, vix float64) *ExitInstruction {
	if pos.EntryPrice <= 0 || pos.Quantity <= 0 {
		logger.Warnf("exit: %s position incomplete (entry=%v qty=%d), skipped", pos.Ticker, pos.EntryPrice, pos.Quantity)
		return nil
	}
	if current <= 0 {
		logger.Warnf("exit: %s has no current price, skipped", pos.Ticker)
		return nil
	}

	checks := []func(portfolio.Position, float64, regime.Profile, float64) *ExitInstruction{
		e.checkStopLoss,
		e.checkTrailingStop,
		e.checkVIXEmergency,
		e.checkTakeProfit,
		e.checkHoldDecay,
		e.checkSessionClose,
	}
	for _, check := range checks {
		if ins := check(pos, current, prof, vix); ins != nil {
			logger.Infof("exit: %s trigger=%s qty=%d urgency=%s (%s)", ins.Ticker, ins.Trigger, ins.Quantity, ins.Urgency, ins.Reason)
			if e.audit != nil {
				if err := e.audit.RecordExit(*ins); err != nil {
					logger.Errorf("exit: audit write for %s failed: %v", ins.Ticker, err)
				}
			}
			return ins
		}
	}
	return nil
}

func pnlPct(entry, current float64) float64 {
	e := decimal.NewFromFloat(entry)
	c := decimal.NewFromFloat(current)
	return c.Sub(e).Div(e).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

func (e *ExitEvaluator) checkStopLoss(pos portfolio.Position, current float64, _ regime.Profile, _ float64) *ExitInstruction {
	threshold := e.resolver.EffectiveFloat(pos.Ticker, params.StopLossPct)
	pnl := pnlPct(pos.EntryPrice, current)
	if pnl > threshold {
		return nil
	}
	return e.instruction(pos, pos.Quantity, UrgencyImmediate, TriggerStopLoss,
		fmt.Sprintf("P&L %.2f%% breached stop-loss %.2f%%", pnl, threshold))
}

func (e *ExitEvaluator) checkTrailingStop(pos portfolio.Position, current float64, _ regime.Profile, _ float64) *ExitInstruction {
	if pos.HighestPrice <= 0 {
		return nil // no high-water mark recorded yet
	}
	threshold := e.resolver.EffectiveFloat(pos.Ticker, params.TrailingStopPct)
	high := decimal.NewFromFloat(pos.HighestPrice)
	drop := high.Sub(decimal.NewFromFloat(current)).Div(high).Mul(decimal.NewFromInt(100)).InexactFloat64()
	if drop < threshold {
		return nil
	}
	return e.instruction(pos, pos.Quantity, UrgencyImmediate, TriggerTrailingStop,
		fmt.Sprintf("%.2f%% off the %.2f high breached trailing stop %.2f%%", drop, pos.HighestPrice, threshold))
}

func (e *ExitEvaluator) checkVIXEmergency(pos portfolio.Position, _ float64, _ regime.Profile, vix float64) *ExitInstruction {
	shutdown, err := e.global.Get(params.VIXShutdownThreshold)
	if err != nil || vix < shutdown {
		return nil
	}
	return e.instruction(pos, pos.Quantity, UrgencyImmediate, TriggerVIXEmergency,
		fmt.Sprintf("VIX %.1f at or above shutdown threshold %.1f", vix, shutdown))
}

// checkTakeProfit resolves the target with per-instrument overrides first,
// then the regime target, then the global default.
func (e *ExitEvaluator) checkTakeProfit(pos portfolio.Position, current float64, prof regime.Profile, _ float64) *ExitInstruction {
	var target float64
	switch e.resolver.ProvenanceOf(pos.Ticker, params.TakeProfitPct) {
	case params.ProvenanceUser, params.ProvenanceAI:
		target = e.resolver.EffectiveFloat(pos.Ticker, params.TakeProfitPct)
	default:
		if prof.TakeProfitPct > 0 {
			target = prof.TakeProfitPct
		} else {
			target = e.resolver.EffectiveFloat(pos.Ticker, params.TakeProfitPct)
		}
	}
	pnl := pnlPct(pos.EntryPrice, current)
	if pnl < target {
		return nil
	}
	return e.instruction(pos, pos.Quantity, UrgencyNormal, TriggerTakeProfit,
		fmt.Sprintf("P&L %.2f%% reached take-profit %.2f%%", pnl, target))
}

// checkHoldDecay forces staged liquidation as a position ages: half at day
// three, three quarters at day four, everything at day five and beyond.
func (e *ExitEvaluator) checkHoldDecay(pos portfolio.Position, _ float64, _ regime.Profile, _ float64) *ExitInstruction {
	if pos.HoldDays < decayStartDays {
		return nil
	}
	switch pos.HoldDays {
	case 3:
		qty := partialQty(pos.Quantity, decayStageOneRat)
		return e.instruction(pos, qty, UrgencyNormal, TriggerHoldDecayD3,
			fmt.Sprintf("held %d days, trimming 50%%", pos.HoldDays))
	case 4:
		qty := partialQty(pos.Quantity, decayStageTwoRat)
		return e.instruction(pos, qty, UrgencyNormal, TriggerHoldDecayD4,
			fmt.Sprintf("held %d days, trimming 75%%", pos.HoldDays))
	default:
		return e.instruction(pos, pos.Quantity, UrgencyImmediate, TriggerHoldDecayD5,
			fmt.Sprintf("held %d days, liquidating", pos.HoldDays))
	}
}

// partialQty floors to whole shares but always liquidates at least one.
func partialQty(quantity int, ratio float64) int {
	qty := int(math.Floor(float64(quantity) * ratio))
	if qty < 1 {
		qty = 1
	}
	if qty > quantity {
		qty = quantity
	}
	return qty
}

// checkSessionClose closes same-day positions in the closing window when the
// instrument's end-of-session flag is on.
func (e *ExitEvaluator) checkSessionClose(pos portfolio.Position, _ float64, _ regime.Profile, _ float64) *ExitInstruction {
	if pos.HoldDays != 0 {
		return nil
	}
	if !e.resolver.EffectiveBool(pos.Ticker, params.CloseBeforeMarketEnd) {
		return nil
	}
	if e.clock.Phase(e.clock.Now()) != market.PhaseClosing {
		return nil
	}
	return e.instruction(pos, pos.Quantity, UrgencyNormal, TriggerSessionClose,
		"same-day position closed before the session end")
}

func (e *ExitEvaluator) instruction(pos portfolio.Position, qty int, urgency Urgency, trigger Trigger, reason string) *ExitInstruction {
	return &ExitInstruction{
		TraceID:  uuid.NewString(),
		Ticker:   pos.Ticker,
		Action:   "sell",
		Quantity: qty,
		Reason:   reason,
		Urgency:  urgency,
		Trigger:  trigger,
	}
}
