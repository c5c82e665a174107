package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPartitionsVIX(t *testing.T) {
	cases := []struct {
		name string
		vix  float64
		want Regime
	}{
		{"zero", 0, Calm},
		{"calm mid", 12.3, Calm},
		{"calm upper bound is exclusive", 15, Normal},
		{"normal mid", 18.9, Normal},
		{"elevated lower bound inclusive", 20, Elevated},
		{"elevated mid", 27.99, Elevated},
		{"turbulent", 33, Turbulent},
		{"crash lower bound", 40, Crash},
		{"crash extreme", 99, Crash},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.vix))
		})
	}
}

func TestClassifyFailSafe(t *testing.T) {
	assert.Equal(t, Crash, Classify(-1))
	assert.Equal(t, Crash, Classify(-0.0001))
}

func TestConfigFallsBackToCrash(t *testing.T) {
	p := Config(-5)
	assert.Equal(t, Crash, p.Regime)
	assert.Equal(t, StrategyHalt, p.Strategy)
	assert.Zero(t, p.ExposureScale)
}

func TestConfigRangesCoverEveryValue(t *testing.T) {
	// Walk the axis in small steps; every value must land in the regime whose
	// configured interval contains it.
	for v := 0.0; v < 120; v += 0.25 {
		p := Config(v)
		assert.GreaterOrEqual(t, v, p.VIXMin, "vix=%v regime=%s", v, p.Regime)
		if p.VIXMax > 0 {
			assert.Less(t, v, p.VIXMax, "vix=%v regime=%s", v, p.Regime)
		}
	}
}

func TestObserveConfidence(t *testing.T) {
	now := time.Now()

	mid := Observe(17.5, now) // middle of the normal band
	assert.Equal(t, Normal, mid.Regime)
	assert.InDelta(t, 1.0, mid.Confidence, 1e-9)

	edge := Observe(15.0, now)
	assert.Equal(t, Normal, edge.Regime)
	assert.InDelta(t, 0.5, edge.Confidence, 1e-9)

	crash := Observe(80, now)
	assert.Equal(t, Crash, crash.Regime)
	assert.Equal(t, 1.0, crash.Confidence)
	assert.Zero(t, crash.MaxExposurePct)
}
