// Package app wires the stores, evaluators and servers into a running
// engine.
package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"etfx/internal/config"
	"etfx/internal/engine"
	"etfx/internal/logger"
	"etfx/internal/market"
	"etfx/internal/optimizer"
	"etfx/internal/params"
	"etfx/internal/portfolio"
	"etfx/internal/regime"
	"etfx/internal/scheduler"
	"etfx/internal/signal"
	"etfx/internal/store/auditlog"
	adminhttp "etfx/internal/transport/http/admin"
	"etfx/internal/universe"
)

// App owns the composed engine: stores, evaluators, the admin server and
// the paper book the evaluation cycle trades against.
type App struct {
	cfg  *config.Config
	deps Dependencies

	global    *params.GlobalStore
	resolver  *params.Resolver
	universe  *universe.Universe
	clock     *market.ExchangeClock
	audit     *auditlog.Store
	entryEval *engine.EntryEvaluator
	exitEval  *engine.ExitEvaluator
	server    *adminhttp.Server
	optimizer *optimizer.Optimizer
	book      *portfolio.Book

	lastCycleDay string
}

// Run starts the admin server, the evaluation scheduler and (when enabled)
// the daily optimizer, blocking until ctx cancels or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.global.Close()
	defer a.resolver.Close()
	defer func() { _ = a.audit.Close() }()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.server.Start(ctx); err != nil {
			return fmt.Errorf("admin http server error: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		cycle := scheduler.NewAlignedScheduler(ctx,
			time.Duration(a.cfg.Engine.CycleIntervalSeconds)*time.Second, 0)
		cycle.RunImmediately = true
		cycle.Start(func() { a.runCycle(ctx) })
		return nil
	})

	if a.optimizer != nil {
		group.Go(func() error {
			daily := scheduler.NewAlignedOnceScheduler(ctx, 24*time.Hour, 24*time.Hour, 30*time.Minute)
			daily.Name = "optimizer"
			daily.Start(func() {
				if err := a.optimizer.Run(ctx); err != nil && ctx.Err() == nil {
					logger.Errorf("optimizer: pass failed: %v", err)
				}
			})
			return nil
		})
	}

	return group.Wait()
}

// runCycle executes one evaluation pass: mark prices, emit exits, then
// evaluate entries. Any upstream failure degrades the cycle instead of
// crashing the loop.
func (a *App) runCycle(ctx context.Context) {
	now := a.clock.Now()
	a.rolloverIfNewDay(now)

	vix, err := a.deps.Market.VIX(ctx)
	if err != nil {
		// Fail safe: an unreadable VIX classifies as maximum stress.
		logger.Errorf("cycle: VIX unavailable, assuming crash regime: %v", err)
		vix = -1
	}
	prof := regime.Config(vix)
	snap := regime.Observe(vix, now)
	if err := a.audit.SaveRegime(snap); err != nil {
		logger.Errorf("cycle: persisting regime snapshot: %v", err)
	}
	logger.Infof("cycle: vix=%.2f regime=%s strategy=%s", vix, prof.Regime, prof.Strategy)

	prices, err := a.deps.Market.Prices(ctx, a.watchlist())
	if err != nil {
		logger.Errorf("cycle: prices unavailable, cycle degraded to exits on stale data: %v", err)
		prices = map[string]float64{}
	}
	for ticker, price := range prices {
		a.book.Mark(ticker, price)
	}

	a.runExits(prices, prof, vix)
	a.runEntries(ctx, prices, prof, vix)
}

func (a *App) runExits(prices map[string]float64, prof regime.Profile, vix float64) {
	for _, pos := range a.book.Positions() {
		current := prices[pos.Ticker]
		ins := a.exitEval.Evaluate(pos, current, prof, vix)
		if ins == nil {
			continue
		}
		if err := a.book.Close(pos.Ticker, current, ins.Quantity); err != nil {
			logger.Errorf("cycle: applying exit %s for %s: %v", ins.Trigger, pos.Ticker, err)
		}
	}
}

func (a *App) runEntries(ctx context.Context, prices map[string]float64, prof regime.Profile, vix float64) {
	decisions, err := a.deps.Decisions.Decisions(ctx)
	if err != nil {
		logger.Errorf("cycle: advisory decisions unavailable, no entries this cycle: %v", err)
		return
	}
	signals, err := a.deps.Signals.Signals(ctx)
	if err != nil {
		logger.Warnf("cycle: indicator signals unavailable, evaluating without agreement bonus: %v", err)
		signals = nil
	}

	pf := a.book.Snapshot(prices)
	candidates := a.entryEval.Evaluate(decisions, signal.Index(signals), prof, pf, vix)
	for _, cand := range candidates {
		if err := a.book.Open(cand.Ticker, cand.Direction, cand.Price, cand.Quantity, a.clock.Now()); err != nil {
			logger.Errorf("cycle: applying candidate %s: %v", cand.Ticker, err)
		}
	}
	if len(candidates) > 0 {
		logger.Infof("cycle: %d entries applied", len(candidates))
	}
}

// rolloverIfNewDay increments hold-day counters and resets the daily
// trade/loss counters on the first cycle of a new session day.
func (a *App) rolloverIfNewDay(now time.Time) {
	day := now.Format("2006-01-02")
	if a.lastCycleDay == "" {
		a.lastCycleDay = day
		return
	}
	if day != a.lastCycleDay {
		a.book.Rollover()
		a.lastCycleDay = day
		logger.Infof("cycle: day rollover to %s", day)
	}
}

// Book exposes the paper book (for testing and replay harnesses).
func (a *App) Book() *portfolio.Book {
	if a == nil {
		return nil
	}
	return a.book
}

func (a *App) watchlist() []string {
	tickers := a.universe.Tickers()
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		seen[t] = true
	}
	for _, pos := range a.book.Positions() {
		if !seen[pos.Ticker] {
			tickers = append(tickers, pos.Ticker)
		}
	}
	return tickers
}
