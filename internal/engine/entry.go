package engine

import (
	"math"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"etfx/internal/advisor"
	"etfx/internal/logger"
	"etfx/internal/market"
	"etfx/internal/params"
	"etfx/internal/portfolio"
	"etfx/internal/regime"
	"etfx/internal/signal"
	"etfx/internal/universe"
)

// defaultAgreementBonus is the fixed confidence bump applied when the
// advisory action and the indicator direction agree. The bonus is binary on
// purpose; a graduated bonus is a possible enhancement, not the contract.
const defaultAgreementBonus = 0.1

// EntryEvaluator converts advisory decisions into sized order candidates
// under the regime gate and the capital constraints.
type EntryEvaluator struct {
	global   *params.GlobalStore
	resolver *params.Resolver
	universe *universe.Universe
	clock    market.Clock
	audit    AuditSink

	agreementBonus float64
}

// NewEntryEvaluator wires the evaluator. audit may be nil.
func NewEntryEvaluator(global *params.GlobalStore, resolver *params.Resolver, uni *universe.Universe, clock market.Clock, audit AuditSink) *EntryEvaluator {
	return &EntryEvaluator{
		global:         global,
		resolver:       resolver,
		universe:       uni,
		clock:          clock,
		audit:          audit,
		agreementBonus: defaultAgreementBonus,
	}
}

// SetAgreementBonus overrides the fixed indicator-agreement bonus.
func (e *EntryEvaluator) SetAgreementBonus(b float64) {
	if b >= 0 && b <= 1 {
		e.agreementBonus = b
	}
}

// Evaluate runs one entry cycle. Malformed decisions are skipped and
// logged; nothing in a single decision's evaluation can fail the cycle.
func (e *EntryEvaluator) Evaluate(
	decisions []advisor.Decision,
	signals map[string]signal.Signal,
	prof regime.Profile,
	pf portfolio.Snapshot,
	vix float64,
) []OrderCandidate {
	if halted, why := e.entryGate(prof, pf, vix); halted {
		logger.Infof("entry: new entries halted (%s)", why)
		return nil
	}

	globalMinConf, err := e.global.Get(params.MinConfidence)
	if err != nil {
		// Unreachable unless the parameter set itself is broken.
		logger.Errorf("entry: reading %s: %v", params.MinConfidence, err)
		return nil
	}

	phase := e.clock.Phase(e.clock.Now())
	orderType := OrderLimit
	if phase.InRegularSession() {
		orderType = OrderMarket
	}

	var out []OrderCandidate
	for _, raw := range decisions {
		d := advisor.Sanitize(raw)
		if d.Action != advisor.ActionBuy && d.Action != advisor.ActionSell {
			logger.Debugf("entry: %s action=%s skipped", d.Ticker, d.Action)
			continue
		}
		entry, ok := e.universe.Lookup(d.Ticker)
		if !ok || !entry.Enabled {
			logger.Warnf("entry: %s not in tradable universe, skipped", d.Ticker)
			continue
		}

		minConf := e.resolver.EffectiveFloat(entry.Ticker, params.MinConfidence)
		if minConf <= 0 {
			minConf = globalMinConf
		}

		adjusted := e.adjustConfidence(d, signals[entry.Ticker])
		if adjusted < minConf {
			logger.Debugf("entry: %s adjusted confidence %.3f below threshold %.3f, dropped", entry.Ticker, adjusted, minConf)
			continue
		}

		target, substituted := e.substitute(d, entry, prof)

		cand, ok := e.size(target, adjusted, prof, pf, orderType)
		if !ok {
			continue
		}
		cand.Substituted = substituted
		cand.Reason = d.Reason
		e.attachRisk(&cand, prof)

		if e.audit != nil {
			if err := e.audit.RecordCandidate(cand); err != nil {
				logger.Errorf("entry: audit write for %s failed: %v", cand.Ticker, err)
			}
		}
		out = append(out, cand)
	}
	return out
}

// entryGate applies the hard stops that suppress the whole cycle.
func (e *EntryEvaluator) entryGate(prof regime.Profile, pf portfolio.Snapshot, vix float64) (bool, string) {
	if prof.Strategy == regime.StrategyHalt {
		return true, "regime " + string(prof.Regime)
	}
	if shutdown, err := e.global.Get(params.VIXShutdownThreshold); err == nil && vix >= shutdown {
		return true, "volatility shutdown"
	}
	if maxTrades, err := e.global.Get(params.MaxDailyTrades); err == nil && float64(pf.DailyTrades) >= maxTrades {
		return true, "daily trade limit"
	}
	if maxLoss, err := e.global.Get(params.MaxDailyLossPct); err == nil && pf.DailyPnLPct <= maxLoss {
		return true, "daily loss limit"
	}
	return false, ""
}

// adjustConfidence applies the binary agreement bonus, capped at 1.0.
func (e *EntryEvaluator) adjustConfidence(d advisor.Decision, sig signal.Signal) float64 {
	adjusted := d.Confidence
	agrees := (d.Action == advisor.ActionBuy && sig.Direction == signal.Buy) ||
		(d.Action == advisor.ActionSell && sig.Direction == signal.Sell)
	if agrees {
		adjusted += e.agreementBonus
	}
	if adjusted > 1 {
		adjusted = 1
	}
	return adjusted
}

// substitute swaps a sell decision onto the instrument's inverse-direction
// counterpart when the regime calls for defense. Without a counterpart the
// original instrument proceeds with its native direction.
func (e *EntryEvaluator) substitute(d advisor.Decision, entry universe.Entry, prof regime.Profile) (universe.Entry, bool) {
	if d.Action != advisor.ActionSell {
		return entry, false
	}
	if prof.Strategy != regime.StrategyCautious && prof.Strategy != regime.StrategyDefensive {
		return entry, false
	}
	if inv, ok := e.universe.Inverse(entry.Ticker); ok {
		logger.Infof("entry: %s sell in %s regime, substituting inverse %s", entry.Ticker, prof.Regime, inv.Ticker)
		return inv, true
	}
	return entry, false
}

// size applies the confidence-weighted base amount, the regime scale, and
// the three capital caps, then floors to whole shares.
func (e *EntryEvaluator) size(entry universe.Entry, adjusted float64, prof regime.Profile, pf portfolio.Snapshot, orderType OrderType) (OrderCandidate, bool) {
	price, ok := pf.Prices[entry.Ticker]
	if !ok || price <= 0 {
		logger.Warnf("entry: %s has no current price, dropped", entry.Ticker)
		return OrderCandidate{}, false
	}

	maxPosPct := e.resolver.EffectiveFloat(entry.Ticker, params.MaxPositionPct)
	maxTotalPct, err := e.global.Get(params.MaxTotalExposurePct)
	if err != nil {
		maxTotalPct = 0
	}

	total := decimal.NewFromFloat(pf.TotalValue)
	base := total.
		Mul(decimal.NewFromFloat(adjusted)).
		Mul(decimal.NewFromFloat(maxPosPct)).
		Mul(decimal.NewFromFloat(prof.ExposureScale))

	perInstrumentRoom := total.Mul(decimal.NewFromFloat(maxPosPct)).
		Sub(decimal.NewFromFloat(pf.InvestedValue(entry.Ticker)))
	portfolioRoom := total.Mul(decimal.NewFromFloat(maxTotalPct)).
		Sub(decimal.NewFromFloat(pf.TotalInvested()))
	cash := decimal.NewFromFloat(pf.Cash)

	amount := decimal.Min(base, perInstrumentRoom, portfolioRoom, cash)
	if amount.Sign() <= 0 {
		logger.Infof("entry: %s sized to zero (base=%s room=%s/%s cash=%s), dropped",
			entry.Ticker, base.StringFixed(2), perInstrumentRoom.StringFixed(2), portfolioRoom.StringFixed(2), cash.StringFixed(2))
		return OrderCandidate{}, false
	}

	qty := int(math.Floor(amount.InexactFloat64() / price))
	if qty <= 0 {
		logger.Infof("entry: %s amount %s below one share at %.2f, dropped", entry.Ticker, amount.StringFixed(2), price)
		return OrderCandidate{}, false
	}

	return OrderCandidate{
		TraceID:            uuid.NewString(),
		Ticker:             entry.Ticker,
		Side:               "buy",
		Direction:          entry.Direction,
		Quantity:           qty,
		OrderType:          orderType,
		Price:              price,
		AdjustedConfidence: adjusted,
	}, true
}

// attachRisk resolves the candidate's exit parameters: per-instrument
// overrides beat regime defaults beat global defaults, with provenance
// recorded per key.
func (e *EntryEvaluator) attachRisk(c *OrderCandidate, prof regime.Profile) {
	c.RiskProvenance = make(map[string]RiskSource, 4)

	c.TakeProfitPct, c.RiskProvenance[params.TakeProfitPct] = e.resolveWithRegime(c.Ticker, params.TakeProfitPct, prof.TakeProfitPct)
	c.StopLossPct, c.RiskProvenance[params.StopLossPct] = e.resolveInstrumentOrGlobal(c.Ticker, params.StopLossPct)
	c.TrailingStopPct, c.RiskProvenance[params.TrailingStopPct] = e.resolveInstrumentOrGlobal(c.Ticker, params.TrailingStopPct)

	holdDays, src := e.resolveWithRegime(c.Ticker, params.MaxHoldDays, float64(prof.MaxHoldDays))
	c.MaxHoldDays = int(holdDays)
	c.RiskProvenance[params.MaxHoldDays] = src
}

func (e *EntryEvaluator) resolveWithRegime(ticker, key string, regimeValue float64) (float64, RiskSource) {
	switch e.resolver.ProvenanceOf(ticker, key) {
	case params.ProvenanceUser:
		return e.resolver.EffectiveFloat(ticker, key), RiskFromUser
	case params.ProvenanceAI:
		return e.resolver.EffectiveFloat(ticker, key), RiskFromAI
	}
	if regimeValue != 0 {
		return regimeValue, RiskFromRegime
	}
	return e.resolver.EffectiveFloat(ticker, key), RiskFromGlobal
}

func (e *EntryEvaluator) resolveInstrumentOrGlobal(ticker, key string) (float64, RiskSource) {
	switch e.resolver.ProvenanceOf(ticker, key) {
	case params.ProvenanceUser:
		return e.resolver.EffectiveFloat(ticker, key), RiskFromUser
	case params.ProvenanceAI:
		return e.resolver.EffectiveFloat(ticker, key), RiskFromAI
	}
	return e.resolver.EffectiveFloat(ticker, key), RiskFromGlobal
}
