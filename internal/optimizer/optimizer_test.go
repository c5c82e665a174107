package optimizer

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"etfx/internal/params"
	"etfx/internal/universe"
)

type MockAdvisoryClient struct {
	mock.Mock
}

func (m *MockAdvisoryClient) Recommend(ctx context.Context, features []Features) (string, error) {
	args := m.Called(ctx, features)
	return args.String(0), args.Error(1)
}

type staticCandleSource struct {
	bars map[string][]Candle
	errs map[string]error
}

func (s *staticCandleSource) History(_ context.Context, ticker string) ([]Candle, error) {
	if err := s.errs[ticker]; err != nil {
		return nil, err
	}
	return s.bars[ticker], nil
}

func syntheticCandles(n int) []Candle {
	out := make([]Candle, n)
	for i := range out {
		c := 100 + 10*math.Sin(float64(i)/5)
		out[i] = Candle{High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return out
}

func newTestResolver(t *testing.T) *params.Resolver {
	t.Helper()
	dir := t.TempDir()
	global, err := params.NewGlobalStore(filepath.Join(dir, "global.json"))
	require.NoError(t, err)
	resolver, err := params.NewResolver(global, filepath.Join(dir, "instruments.json"))
	require.NoError(t, err)
	return resolver
}

func pairUniverse(t *testing.T) *universe.Universe {
	t.Helper()
	u, err := universe.New([]universe.Entry{
		{Ticker: "TQQQ", Direction: universe.Bull, Leverage: 3, Enabled: true, InversePair: "SQQQ"},
		{Ticker: "SQQQ", Direction: universe.Bear, Leverage: 3, Enabled: true, InversePair: "TQQQ"},
	})
	require.NoError(t, err)
	return u
}

func newTestOptimizer(t *testing.T, source CandleSource, client AdvisoryClient, resolver *params.Resolver) *Optimizer {
	t.Helper()
	o, err := New(source, client, resolver, pairUniverse(t), Config{
		ChunkSize:      2,
		CallsPerMinute: 6000,
		Timeout:        time.Second,
	})
	require.NoError(t, err)
	return o
}

func TestRunAppliesRecommendations(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{bars: map[string][]Candle{
		"TQQQ": syntheticCandles(60),
		"SQQQ": syntheticCandles(60),
	}}
	client := &MockAdvisoryClient{}
	client.On("Recommend", mock.Anything, mock.Anything).Return(`{
		"TQQQ": {"params": {"take_profit_pct": 6.5, "min_confidence": 0.7}, "reasoning": "momentum supportive"},
		"SQQQ": {"params": {"stop_loss_pct": -3.0}, "reasoning": "hedge leg"}
	}`, nil).Once()

	require.NoError(t, newTestOptimizer(t, source, client, resolver).Run(context.Background()))
	client.AssertExpectations(t)

	assert.Equal(t, 6.5, resolver.EffectiveFloat("TQQQ", params.TakeProfitPct))
	assert.Equal(t, 0.7, resolver.EffectiveFloat("TQQQ", params.MinConfidence))
	assert.Equal(t, -3.0, resolver.EffectiveFloat("SQQQ", params.StopLossPct))
	assert.Equal(t, params.ProvenanceAI, resolver.ProvenanceOf("TQQQ", params.TakeProfitPct))
}

func TestRunClampsOutOfRangeValues(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{bars: map[string][]Candle{
		"TQQQ": syntheticCandles(60),
		"SQQQ": syntheticCandles(60),
	}}
	client := &MockAdvisoryClient{}
	client.On("Recommend", mock.Anything, mock.Anything).Return(`{
		"TQQQ": {"params": {"take_profit_pct": 90, "stop_loss_pct": -40, "min_confidence": 0.1}}
	}`, nil).Once()

	require.NoError(t, newTestOptimizer(t, source, client, resolver).Run(context.Background()))

	assert.Equal(t, 20.0, resolver.EffectiveFloat("TQQQ", params.TakeProfitPct))
	assert.Equal(t, -10.0, resolver.EffectiveFloat("TQQQ", params.StopLossPct))
	assert.Equal(t, 0.3, resolver.EffectiveFloat("TQQQ", params.MinConfidence))
}

func TestRunSkipsInstrumentsWithoutHistory(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{
		bars: map[string][]Candle{
			"TQQQ": syntheticCandles(60),
			"SQQQ": syntheticCandles(10), // too short
		},
	}
	client := &MockAdvisoryClient{}
	client.On("Recommend", mock.Anything, mock.MatchedBy(func(features []Features) bool {
		return len(features) == 1 && features[0].Ticker == "TQQQ"
	})).Return(`{"TQQQ": {"params": {"take_profit_pct": 7}}}`, nil).Once()

	require.NoError(t, newTestOptimizer(t, source, client, resolver).Run(context.Background()))
	client.AssertExpectations(t)
}

func TestRunContinuesPastFailedChunk(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{bars: map[string][]Candle{
		"TQQQ": syntheticCandles(60),
		"SQQQ": syntheticCandles(60),
	}}
	client := &MockAdvisoryClient{}
	client.On("Recommend", mock.Anything, mock.Anything).Return("", fmt.Errorf("upstream 503")).Once()

	o, err := New(source, client, resolver, pairUniverse(t), Config{
		ChunkSize:      2,
		CallsPerMinute: 6000,
		Timeout:        time.Second,
	})
	require.NoError(t, err)
	assert.NoError(t, o.Run(context.Background()), "a failed chunk is logged, not fatal")
}

func TestRunHonorsCancellation(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{bars: map[string][]Candle{
		"TQQQ": syntheticCandles(60),
		"SQQQ": syntheticCandles(60),
	}}
	client := &MockAdvisoryClient{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, newTestOptimizer(t, source, client, resolver).Run(ctx))
	client.AssertNotCalled(t, "Recommend", mock.Anything, mock.Anything)
}

func TestRunRejectsMalformedResponse(t *testing.T) {
	resolver := newTestResolver(t)
	source := &staticCandleSource{bars: map[string][]Candle{
		"TQQQ": syntheticCandles(60),
		"SQQQ": syntheticCandles(60),
	}}
	client := &MockAdvisoryClient{}
	client.On("Recommend", mock.Anything, mock.Anything).Return("no json here", nil).Once()

	assert.NoError(t, newTestOptimizer(t, source, client, resolver).Run(context.Background()))
	assert.Equal(t, params.ProvenanceGlobal, resolver.ProvenanceOf("TQQQ", params.TakeProfitPct))
}
