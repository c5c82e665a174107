package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfx/internal/market"
	"etfx/internal/params"
	"etfx/internal/portfolio"
	"etfx/internal/regime"
	"etfx/internal/universe"
)

func newTestExitEvaluator(t *testing.T, clock market.Clock) (*ExitEvaluator, *params.GlobalStore, *params.Resolver) {
	t.Helper()
	global, resolver := newTestStores(t)
	if clock == nil {
		clock = market.FixedClock{Fixed: market.PhaseRegular}
	}
	return NewExitEvaluator(global, resolver, clock, nil), global, resolver
}

func openPosition(ticker string, entry float64, qty, holdDays int) portfolio.Position {
	return portfolio.Position{
		Ticker:     ticker,
		Direction:  universe.Bull,
		EntryPrice: entry,
		Quantity:   qty,
		HoldDays:   holdDays,
	}
}

func TestExitStopLoss(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 200, 1)

	// -2.5% breaches the -2.0% default.
	ins := ev.Evaluate(pos, 97.5, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerStopLoss, ins.Trigger)
	assert.Equal(t, UrgencyImmediate, ins.Urgency)
	assert.Equal(t, 200, ins.Quantity)
	assert.Equal(t, "sell", ins.Action)
	assert.NotEmpty(t, ins.TraceID)

	// -1.5% does not.
	assert.Nil(t, ev.Evaluate(pos, 98.5, regime.Config(10), 10))
}

func TestExitStopLossBeatsTakeProfit(t *testing.T) {
	ev, _, resolver := newTestExitEvaluator(t, nil)
	// Overrides set so a +4.5% move satisfies both rules at once; the
	// stop-loss must win because it runs first.
	require.NoError(t, resolver.SetUserOverride("TQQQ", map[string]any{
		params.StopLossPct:   5.0,
		params.TakeProfitPct: 4.0,
	}))
	pos := openPosition("TQQQ", 100, 100, 1)

	ins := ev.Evaluate(pos, 104.5, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerStopLoss, ins.Trigger)
}

func TestExitTrailingStop(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 100, 1)
	pos.HighestPrice = 102

	// 102 -> 100.2 is 1.76% off the high, past the 1.5% default.
	ins := ev.Evaluate(pos, 100.2, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerTrailingStop, ins.Trigger)
	assert.Equal(t, UrgencyImmediate, ins.Urgency)
	assert.Equal(t, 100, ins.Quantity)

	// A 1% pullback stays inside the allowance.
	assert.Nil(t, ev.Evaluate(pos, 100.98, regime.Config(10), 10))
}

func TestExitTrailingStopNeedsHighWaterMark(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 100, 1)
	pos.HighestPrice = 0

	assert.Nil(t, ev.Evaluate(pos, 100.5, regime.Config(10), 10))
}

func TestExitVIXEmergency(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 100, 1)

	// Flat P&L, nothing else fires, but the VIX reading is at the shutdown
	// threshold.
	ins := ev.Evaluate(pos, 101, regime.Config(42), 45)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerVIXEmergency, ins.Trigger)
	assert.Equal(t, UrgencyImmediate, ins.Urgency)
	assert.Equal(t, 100, ins.Quantity)
}

func TestExitTakeProfitRegimeTarget(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 100, 1)

	// Elevated regime tightens the target to 4%; the 5% global default
	// would not have fired at +4.2%.
	ins := ev.Evaluate(pos, 104.2, regime.Config(25), 25)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerTakeProfit, ins.Trigger)
	assert.Equal(t, UrgencyNormal, ins.Urgency)
}

func TestExitTakeProfitUserOverrideBeatsRegime(t *testing.T) {
	ev, _, resolver := newTestExitEvaluator(t, nil)
	require.NoError(t, resolver.SetUserOverride("TQQQ", map[string]any{params.TakeProfitPct: 8.0}))
	pos := openPosition("TQQQ", 100, 100, 1)

	// +6% clears the calm-regime 6% target but not the user's 8%.
	assert.Nil(t, ev.Evaluate(pos, 106, regime.Config(10), 10))

	ins := ev.Evaluate(pos, 108.5, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerTakeProfit, ins.Trigger)
}

func TestExitHoldDecayStages(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)

	tests := []struct {
		name     string
		holdDays int
		wantQty  int
		trigger  Trigger
		urgency  Urgency
	}{
		{"day three trims half", 3, 50, TriggerHoldDecayD3, UrgencyNormal},
		{"day four trims three quarters", 4, 75, TriggerHoldDecayD4, UrgencyNormal},
		{"day five liquidates", 5, 100, TriggerHoldDecayD5, UrgencyImmediate},
		{"day seven liquidates", 7, 100, TriggerHoldDecayD5, UrgencyImmediate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos := openPosition("TQQQ", 100, 100, tt.holdDays)
			ins := ev.Evaluate(pos, 100.5, regime.Config(10), 10)
			require.NotNil(t, ins)
			assert.Equal(t, tt.trigger, ins.Trigger)
			assert.Equal(t, tt.wantQty, ins.Quantity)
			assert.Equal(t, tt.urgency, ins.Urgency)
		})
	}
}

func TestExitHoldDecayRoundsUpToOneShare(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)
	pos := openPosition("TQQQ", 100, 1, 3)

	ins := ev.Evaluate(pos, 100.5, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, 1, ins.Quantity)
}

func TestExitSessionClose(t *testing.T) {
	closing := market.FixedClock{Fixed: market.PhaseClosing}
	ev, _, _ := newTestExitEvaluator(t, closing)

	ins := ev.Evaluate(openPosition("TQQQ", 100, 100, 0), 100.5, regime.Config(10), 10)
	require.NotNil(t, ins)
	assert.Equal(t, TriggerSessionClose, ins.Trigger)
	assert.Equal(t, UrgencyNormal, ins.Urgency)
	assert.Equal(t, 100, ins.Quantity)

	// Aged positions are the hold-decay rule's business, not this one's.
	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 100, 100, 1), 100.5, regime.Config(10), 10))
}

func TestExitSessionCloseRespectsFlag(t *testing.T) {
	closing := market.FixedClock{Fixed: market.PhaseClosing}
	ev, _, resolver := newTestExitEvaluator(t, closing)
	require.NoError(t, resolver.SetUserOverride("TQQQ", map[string]any{params.CloseBeforeMarketEnd: false}))

	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 100, 100, 0), 100.5, regime.Config(10), 10))
}

func TestExitSessionCloseOutsideClosingWindow(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, market.FixedClock{Fixed: market.PhaseRegular})

	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 100, 100, 0), 100.5, regime.Config(10), 10))
}

func TestExitSkipsIncompletePositions(t *testing.T) {
	ev, _, _ := newTestExitEvaluator(t, nil)

	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 0, 100, 1), 97, regime.Config(10), 10))
	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 100, 0, 1), 97, regime.Config(10), 10))
	assert.Nil(t, ev.Evaluate(openPosition("TQQQ", 100, 100, 1), 0, regime.Config(10), 10))
}
