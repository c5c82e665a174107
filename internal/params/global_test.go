package params

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"etfx/internal/regime"
)

func newTestGlobal(t *testing.T) *GlobalStore {
	t.Helper()
	s, err := NewGlobalStore(filepath.Join(t.TempDir(), "global.json"))
	require.NoError(t, err)
	return s
}

func TestGlobalStoreSeedsDefaultsOnMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	s, err := NewGlobalStore(path)
	require.NoError(t, err)

	tp, err := s.Get(TakeProfitPct)
	require.NoError(t, err)
	assert.Equal(t, 5.0, tp)

	closeFlag, err := s.GetBool(CloseBeforeMarketEnd)
	require.NoError(t, err)
	assert.True(t, closeFlag)

	// Seeding writes the defaults out so the next process starts aligned.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, len(globalSpecs))
}

func TestGlobalStoreLoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"take_profit_pct": 7.5, "bogus": 1}`), 0o644))

	s, err := NewGlobalStore(path)
	require.NoError(t, err)

	tp, err := s.Get(TakeProfitPct)
	require.NoError(t, err)
	assert.Equal(t, 7.5, tp)

	// Unknown names on disk are rejected, not adopted.
	_, err = s.Get("bogus")
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestGlobalStoreCorruptFileDegradesToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	s, err := NewGlobalStore(path)
	require.NoError(t, err)
	sl, err := s.Get(StopLossPct)
	require.NoError(t, err)
	assert.Equal(t, -2.0, sl)
}

func TestGlobalStoreGetUnknown(t *testing.T) {
	s := newTestGlobal(t)
	_, err := s.Get("no_such_parameter")
	assert.ErrorIs(t, err, ErrUnknownParameter)
	_, err = s.GetBool("no_such_parameter")
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestGlobalStoreSetPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	s, err := NewGlobalStore(path)
	require.NoError(t, err)

	require.NoError(t, s.Set(MinConfidence, 0.7))

	reloaded, err := NewGlobalStore(path)
	require.NoError(t, err)
	mc, err := reloaded.Get(MinConfidence)
	require.NoError(t, err)
	assert.Equal(t, 0.7, mc)
}

func TestGlobalStoreConcurrentSetsKeepDocumentWhole(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	s, err := NewGlobalStore(path)
	require.NoError(t, err)

	// Each Set runs the full read-modify-write-truncate cycle under the
	// sidecar lock, so racing writers must never leave a torn document.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.Set(TakeProfitPct, 4.0+float64(n)))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]any
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Len(t, onDisk, len(globalSpecs))
}

func TestGlobalStoreWatchReloadsExternalRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "global.json")
	s, err := NewGlobalStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Watch())
	defer s.Close()

	// Simulate a sibling process rewriting the whole document.
	doc := s.Snapshot()
	doc[TakeProfitPct] = 9.5
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Eventually(t, func() bool {
		tp, err := s.Get(TakeProfitPct)
		return err == nil && tp == 9.5
	}, 2*time.Second, 10*time.Millisecond, "external rewrite never adopted")
}

func TestGlobalStoreSetUnknownName(t *testing.T) {
	s := newTestGlobal(t)
	err := s.Set("typo_pct", 1.0)
	assert.ErrorIs(t, err, ErrUnknownParameter)
}

func TestValidateAdjustment(t *testing.T) {
	s := newTestGlobal(t)

	cases := []struct {
		name     string
		old, new float64
		ok       bool
	}{
		{"exact bound up", 3.0, 3.3, true},
		{"just over bound", 3.0, 3.31, false},
		{"exact bound down", 3.0, 2.7, true},
		{"just under bound down", 3.0, 2.69, false},
		{"no change", 3.0, 3.0, true},
		{"negative base within", -2.0, -2.2, true},
		{"negative base outside", -2.0, -2.3, false},
		{"sign symmetric", -2.0, -1.8, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, s.ValidateAdjustment(TakeProfitPct, tc.old, tc.new))
		})
	}
}

func TestValidateAdjustmentZeroOldUsesAbsolute(t *testing.T) {
	s := newTestGlobal(t)
	assert.True(t, s.ValidateAdjustment(TakeProfitPct, 0, 0.1))
	assert.False(t, s.ValidateAdjustment(TakeProfitPct, 0, 0.11))
}

func TestValidateAdjustmentUnknownName(t *testing.T) {
	s := newTestGlobal(t)
	assert.False(t, s.ValidateAdjustment("no_such", 1, 1))
}

func TestRegimeConfigFallsThroughToClassifier(t *testing.T) {
	s := newTestGlobal(t)
	assert.Equal(t, regime.Calm, s.RegimeConfig(10).Regime)
	assert.Equal(t, regime.Crash, s.RegimeConfig(-3).Regime)
}
