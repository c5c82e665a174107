// Package optimizer runs the bulk AI re-optimization of per-instrument
// parameters: gather indicator features, ask the advisory model in chunks,
// clamp what comes back, and hand it to the resolver.
package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"etfx/internal/advisor"
	"etfx/internal/logger"
	"etfx/internal/params"
	"etfx/internal/pkg/convert"
	"etfx/internal/universe"
)

// Candle is one historical bar of the instrument.
type Candle struct {
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// minHistoryBars covers the longest RSI window plus its warm-up.
const minHistoryBars = 44

// Features is the indicator snapshot sent to the advisory model for one
// instrument.
type Features struct {
	Ticker    string  `json:"ticker"`
	LastClose float64 `json:"last_close"`
	RSI7      float64 `json:"rsi_7"`
	RSI14     float64 `json:"rsi_14"`
	RSI21     float64 `json:"rsi_21"`
	ATR14     float64 `json:"atr_14"`
}

// CandleSource supplies daily history for feature computation.
type CandleSource interface {
	History(ctx context.Context, ticker string) ([]Candle, error)
}

// AdvisoryClient performs one bulk recommendation call. The response is the
// raw model output; parsing and validation happen here.
type AdvisoryClient interface {
	Recommend(ctx context.Context, features []Features) (string, error)
}

// Optimizer chunks the universe and applies recommendations as each chunk
// succeeds, so an interrupted run keeps everything applied so far.
type Optimizer struct {
	source   CandleSource
	client   AdvisoryClient
	resolver *params.Resolver
	universe *universe.Universe

	chunkSize int
	limiter   *rate.Limiter
	timeout   time.Duration
}

// Config tunes one Optimizer.
type Config struct {
	ChunkSize      int
	CallsPerMinute float64
	Timeout        time.Duration
}

func New(source CandleSource, client AdvisoryClient, resolver *params.Resolver, uni *universe.Universe, cfg Config) (*Optimizer, error) {
	if source == nil || client == nil || resolver == nil || uni == nil {
		return nil, fmt.Errorf("optimizer requires a candle source, a client, a resolver and a universe")
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = 4
	}
	perSec := rate.Limit(cfg.CallsPerMinute / 60.0)
	if cfg.CallsPerMinute <= 0 {
		perSec = rate.Limit(0.1)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Optimizer{
		source:    source,
		client:    client,
		resolver:  resolver,
		universe:  uni,
		chunkSize: chunk,
		limiter:   rate.NewLimiter(perSec, 1),
		timeout:   timeout,
	}, nil
}

// Run executes one full re-optimization pass. A failed chunk logs and the
// pass continues; only context cancellation stops it early.
func (o *Optimizer) Run(ctx context.Context) error {
	features, err := o.gatherFeatures(ctx, o.universe.Tickers())
	if err != nil {
		return err
	}
	if len(features) == 0 {
		logger.Warnf("optimizer: no instrument produced features, nothing to do")
		return nil
	}

	applied := 0
	for start := 0; start < len(features); start += o.chunkSize {
		if err := ctx.Err(); err != nil {
			logger.Warnf("optimizer: interrupted after %d instruments applied", applied)
			return err
		}
		end := start + o.chunkSize
		if end > len(features) {
			end = len(features)
		}
		chunk := features[start:end]
		if err := o.runChunk(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				logger.Warnf("optimizer: interrupted after %d instruments applied", applied)
				return ctx.Err()
			}
			logger.Errorf("optimizer: chunk %v failed, continuing: %v", tickersOf(chunk), err)
			continue
		}
		applied += len(chunk)
	}
	logger.Infof("optimizer: pass complete, %d/%d instruments applied", applied, len(features))
	return nil
}

// gatherFeatures computes indicator snapshots in parallel. Instruments
// whose history cannot be fetched or is too short are skipped with a log.
func (o *Optimizer) gatherFeatures(ctx context.Context, tickers []string) ([]Features, error) {
	results := make([]*Features, len(tickers))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, ticker := range tickers {
		eg.Go(func() error {
			candles, err := o.source.History(egCtx, ticker)
			if err != nil {
				logger.Warnf("optimizer: history for %s failed, skipped: %v", ticker, err)
				return nil
			}
			f, ok := computeFeatures(ticker, candles)
			if !ok {
				logger.Warnf("optimizer: %s has %d bars, need %d, skipped", ticker, len(candles), minHistoryBars)
				return nil
			}
			results[i] = &f
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	out := make([]Features, 0, len(results))
	for _, f := range results {
		if f != nil {
			out = append(out, *f)
		}
	}
	return out, nil
}

func computeFeatures(ticker string, candles []Candle) (Features, bool) {
	if len(candles) < minHistoryBars {
		return Features{}, false
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	return Features{
		Ticker:    ticker,
		LastClose: closes[len(closes)-1],
		RSI7:      last(talib.Rsi(closes, 7)),
		RSI14:     last(talib.Rsi(closes, 14)),
		RSI21:     last(talib.Rsi(closes, 21)),
		ATR14:     last(talib.Atr(highs, lows, closes, 14)),
	}, true
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}

func (o *Optimizer) runChunk(ctx context.Context, chunk []Features) error {
	if err := o.limiter.Wait(ctx); err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	raw, err := o.client.Recommend(callCtx, chunk)
	if err != nil {
		return fmt.Errorf("advisory call failed: %w", err)
	}
	payload, err := advisor.ParseRecommendations(raw)
	if err != nil {
		return err
	}

	index := make(map[string]Features, len(chunk))
	for _, f := range chunk {
		index[f.Ticker] = f
	}
	batch := make(map[string]params.Recommendation, len(payload))
	for ticker, rec := range payload {
		if _, requested := index[ticker]; !requested {
			logger.Warnf("optimizer: response names unrequested instrument %s, skipped", ticker)
			continue
		}
		batch[ticker] = params.Recommendation{
			Params:    clampParams(ticker, rec.Params),
			Reasoning: rec.Reasoning,
			Analysis:  analysisOf(index[ticker]),
		}
	}
	if len(batch) == 0 {
		return fmt.Errorf("response carried no usable instrument recommendations")
	}
	return o.resolver.ApplyAIRecommendations(batch)
}

func analysisOf(f Features) map[string]any {
	return map[string]any{
		"last_close": f.LastClose,
		"rsi_7":      f.RSI7,
		"rsi_14":     f.RSI14,
		"rsi_21":     f.RSI21,
		"atr_14":     f.ATR14,
	}
}

// clampRanges bounds every numeric recommendation; a model is free to
// reason, not to set a 40% stop-loss.
var clampRanges = map[string]struct{ lo, hi float64 }{
	params.TakeProfitPct:   {0.5, 20},
	params.StopLossPct:     {-10, -0.5},
	params.TrailingStopPct: {0.3, 10},
	params.MinConfidence:   {0.3, 0.95},
	params.MaxPositionPct:  {0.01, 0.5},
	params.MaxHoldDays:     {1, 10},
}

// clampParams coerces and bounds recommended values. Unknown or
// non-numeric entries pass through untouched; the resolver drops them with
// its own diagnostics.
func clampParams(ticker string, raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	for key, value := range raw {
		bounds, bounded := clampRanges[key]
		if !bounded {
			out[key] = value
			continue
		}
		v, ok := convert.ToFloat64(value)
		if !ok {
			out[key] = value
			continue
		}
		clamped := v
		if clamped < bounds.lo {
			clamped = bounds.lo
		}
		if clamped > bounds.hi {
			clamped = bounds.hi
		}
		if clamped != v {
			logger.Warnf("optimizer: %s.%s recommendation %v clamped to %v", ticker, key, v, clamped)
		}
		out[key] = clamped
	}
	return out
}

func tickersOf(chunk []Features) []string {
	out := make([]string, len(chunk))
	for i, f := range chunk {
		out[i] = f.Ticker
	}
	return out
}
