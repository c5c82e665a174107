package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"etfx/internal/advisor"
	"etfx/internal/config"
	"etfx/internal/engine"
	"etfx/internal/logger"
	"etfx/internal/market"
	"etfx/internal/optimizer"
	"etfx/internal/params"
	"etfx/internal/portfolio"
	"etfx/internal/signal"
	"etfx/internal/store/auditlog"
	adminhttp "etfx/internal/transport/http/admin"
	"etfx/internal/universe"
)

// DecisionSource supplies the advisory decisions for one evaluation cycle.
type DecisionSource interface {
	Decisions(ctx context.Context) ([]advisor.Decision, error)
}

// SignalSource supplies the aggregated indicator signals.
type SignalSource interface {
	Signals(ctx context.Context) ([]signal.Signal, error)
}

// MarketData supplies prices and the volatility index.
type MarketData interface {
	Prices(ctx context.Context, tickers []string) (map[string]float64, error)
	VIX(ctx context.Context) (float64, error)
}

// Dependencies are the external collaborators the engine consumes. Decisions,
// Signals and Market are required; Candles and Advisory enable the optimizer.
type Dependencies struct {
	Decisions DecisionSource
	Signals   SignalSource
	Market    MarketData
	Candles   optimizer.CandleSource
	Advisory  optimizer.AdvisoryClient
}

// New assembles the application from config (without starting it).
func New(cfg *config.Config, deps Dependencies) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if deps.Decisions == nil || deps.Signals == nil || deps.Market == nil {
		return nil, fmt.Errorf("app requires decision, signal and market data sources")
	}
	logger.SetLevel(cfg.App.LogLevel)

	global, err := params.NewGlobalStore(cfg.Stores.GlobalParamsPath)
	if err != nil {
		return nil, fmt.Errorf("global parameter store: %w", err)
	}
	if err := global.Watch(); err != nil {
		logger.Warnf("app: global params file watch unavailable: %v", err)
	}
	resolver, err := params.NewResolver(global, cfg.Stores.InstrumentParamsPath)
	if err != nil {
		return nil, fmt.Errorf("instrument parameter resolver: %w", err)
	}
	if err := resolver.Watch(); err != nil {
		logger.Warnf("app: instrument params file watch unavailable: %v", err)
	}

	uni, err := loadUniverse(cfg.Universe.Path)
	if err != nil {
		return nil, err
	}
	clock, err := market.NewExchangeClock(cfg.Session.Timezone, cfg.Session.ClosingWindowMinutes)
	if err != nil {
		return nil, fmt.Errorf("exchange clock: %w", err)
	}
	audit, err := auditlog.New(cfg.Stores.AuditDBPath)
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}

	entryEval := engine.NewEntryEvaluator(global, resolver, uni, clock, audit)
	entryEval.SetAgreementBonus(cfg.Engine.AgreementBonus)
	exitEval := engine.NewExitEvaluator(global, resolver, clock, audit)

	server, err := adminhttp.NewServer(adminhttp.ServerConfig{
		Addr:   cfg.App.HTTPAddr,
		Routes: adminhttp.NewRouter(global, resolver, uni, audit),
	})
	if err != nil {
		return nil, fmt.Errorf("admin http server: %w", err)
	}

	var opt *optimizer.Optimizer
	if cfg.Optimizer.Enabled {
		if deps.Candles == nil || deps.Advisory == nil {
			return nil, fmt.Errorf("optimizer enabled but candle source or advisory client missing")
		}
		opt, err = optimizer.New(deps.Candles, deps.Advisory, resolver, uni, optimizer.Config{
			ChunkSize:      cfg.Optimizer.ChunkSize,
			CallsPerMinute: cfg.Optimizer.CallsPerMinute,
			Timeout:        time.Duration(cfg.Optimizer.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("optimizer: %w", err)
		}
	}

	return &App{
		cfg:       cfg,
		deps:      deps,
		global:    global,
		resolver:  resolver,
		universe:  uni,
		clock:     clock,
		audit:     audit,
		entryEval: entryEval,
		exitEval:  exitEval,
		server:    server,
		optimizer: opt,
		book:      portfolio.NewBook(cfg.Engine.InitialCash),
	}, nil
}

func loadUniverse(path string) (*universe.Universe, error) {
	if path == "" {
		return universe.Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Warnf("app: universe file %s not found, using built-in set", path)
		return universe.Default(), nil
	}
	uni, err := universe.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("universe: %w", err)
	}
	return uni, nil
}
