package auditlog

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfx/internal/engine"
	"etfx/internal/params"
	"etfx/internal/regime"
	"etfx/internal/universe"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordCandidateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cand := engine.OrderCandidate{
		TraceID:            "trace-1",
		Ticker:             "TQQQ",
		Side:               "buy",
		Direction:          universe.Bull,
		Quantity:           500,
		OrderType:          engine.OrderMarket,
		Price:              27,
		AdjustedConfidence: 0.9,
		TakeProfitPct:      6,
		StopLossPct:        -2,
		TrailingStopPct:    1.5,
		MaxHoldDays:        5,
		RiskProvenance: map[string]engine.RiskSource{
			params.TakeProfitPct: engine.RiskFromRegime,
		},
		Reason: "trend continuation",
	}
	require.NoError(t, s.RecordCandidate(cand))

	got, err := s.RecentCandidates(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, cand, got[0])
}

func TestRecordExitRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ins := engine.ExitInstruction{
		TraceID:  "trace-2",
		Ticker:   "SOXL",
		Action:   "sell",
		Quantity: 50,
		Reason:   "held 3 days, trimming 50%",
		Urgency:  engine.UrgencyNormal,
		Trigger:  engine.TriggerHoldDecayD3,
	}
	require.NoError(t, s.RecordExit(ins))

	got, err := s.RecentExits(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ins, got[0])
}

func TestRegimeSnapshotUpsert(t *testing.T) {
	s := newTestStore(t)

	_, found, err := s.LatestRegime()
	require.NoError(t, err)
	assert.False(t, found)

	at := time.Now().Truncate(time.Second)
	require.NoError(t, s.SaveRegime(regime.Snapshot{Regime: regime.Calm, VIX: 12, Confidence: 0.9, MaxExposurePct: 0.8, ObservedAt: at}))
	require.NoError(t, s.SaveRegime(regime.Snapshot{Regime: regime.Elevated, VIX: 24, Confidence: 1, MaxExposurePct: 0.5, ObservedAt: at}))

	snap, found, err := s.LatestRegime()
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, regime.Elevated, snap.Regime)
	assert.Equal(t, 24.0, snap.VIX)
	assert.Equal(t, at.Unix(), snap.ObservedAt.Unix())
}
