package universe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultUniverse(t *testing.T) {
	u := Default()
	require.NotNil(t, u)

	assert.True(t, u.Contains("TQQQ"))
	assert.True(t, u.Contains("tqqq"), "lookups are case-insensitive")
	assert.False(t, u.Contains("AAPL"))

	inv, ok := u.Inverse("TQQQ")
	require.True(t, ok)
	assert.Equal(t, "SQQQ", inv.Ticker)
	assert.Equal(t, Bear, inv.Direction)

	_, ok = u.Inverse("TSLL") // no counterpart defined
	assert.False(t, ok)
}

func TestNewRejectsInconsistentPairing(t *testing.T) {
	_, err := New([]Entry{
		{Ticker: "AAA", Direction: Bull, Enabled: true, InversePair: "BBB"},
	})
	assert.ErrorContains(t, err, "unknown inverse pair")

	_, err = New([]Entry{
		{Ticker: "AAA", Direction: Bull, Enabled: true, InversePair: "BBB"},
		{Ticker: "BBB", Direction: Bull, Enabled: true, InversePair: "AAA"},
	})
	assert.ErrorContains(t, err, "share direction")
}

func TestNewRejectsBadEntries(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New([]Entry{{Ticker: "AAA", Direction: "sideways"}})
	assert.ErrorContains(t, err, "direction")

	_, err = New([]Entry{
		{Ticker: "AAA", Direction: Bull},
		{Ticker: "aaa", Direction: Bear},
	})
	assert.ErrorContains(t, err, "duplicate")
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.yaml")
	doc := `
- ticker: TQQQ
  name: ProShares UltraPro QQQ
  direction: bull
  leverage: 3
  enabled: true
  inverse_pair: SQQQ
- ticker: SQQQ
  name: ProShares UltraPro Short QQQ
  direction: bear
  leverage: 3
  enabled: true
  inverse_pair: TQQQ
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	u, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SQQQ", "TQQQ"}, u.Tickers())

	disabled, ok := u.Lookup("SQQQ")
	require.True(t, ok)
	assert.Equal(t, 3, disabled.Leverage)
}
