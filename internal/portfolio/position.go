// Package portfolio tracks open positions and the account view the entry
// evaluator sizes against.
package portfolio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"etfx/internal/universe"
)

// Position is one open holding. HighestPrice is the high-water mark since
// entry and only ever moves up while the position is open.
type Position struct {
	Ticker       string             `json:"ticker"`
	Direction    universe.Direction `json:"direction"`
	EntryPrice   float64            `json:"entry_price"`
	Quantity     int                `json:"quantity"`
	EntryAt      time.Time          `json:"entry_at"`
	HighestPrice float64            `json:"highest_price"`
	HoldDays     int                `json:"hold_days"`
}

// MarkPrice updates the high-water mark from a tick. Non-positive prices are
// ignored.
func (p *Position) MarkPrice(price float64) {
	if price <= 0 {
		return
	}
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
}

// Rollover increments the hold-day counter at the day boundary.
func (p *Position) Rollover() { p.HoldDays++ }

// PnLPct is the percent move from entry to current, positive for gains.
func (p *Position) PnLPct(current float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (current - p.EntryPrice) / p.EntryPrice * 100
}

// Book is the in-memory position ledger. Evaluations read snapshots; fills
// and ticks mutate through the book so the invariants hold in one place.
type Book struct {
	mu        sync.RWMutex
	cash      float64
	positions map[string]*Position

	dailyTrades  int
	dailyPnL     float64
	startOfDayEq float64
}

// NewBook starts a ledger with the given cash balance.
func NewBook(cash float64) *Book {
	return &Book{
		cash:         cash,
		positions:    make(map[string]*Position),
		startOfDayEq: cash,
	}
}

// Open records a fill. An existing position in the same instrument is
// averaged in; the high-water mark resets to the better of old mark and the
// fill price.
func (b *Book) Open(ticker string, dir universe.Direction, price float64, qty int, at time.Time) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if price <= 0 || qty <= 0 {
		return fmt.Errorf("open %s: need positive price and quantity (price=%v qty=%d)", ticker, price, qty)
	}
	cost := price * float64(qty)
	b.mu.Lock()
	defer b.mu.Unlock()
	if cost > b.cash {
		return fmt.Errorf("open %s: cost %.2f exceeds cash %.2f", ticker, cost, b.cash)
	}
	b.cash -= cost
	b.dailyTrades++
	if pos, ok := b.positions[ticker]; ok {
		total := pos.EntryPrice*float64(pos.Quantity) + cost
		pos.Quantity += qty
		pos.EntryPrice = total / float64(pos.Quantity)
		pos.MarkPrice(price)
		return nil
	}
	b.positions[ticker] = &Position{
		Ticker:       ticker,
		Direction:    dir,
		EntryPrice:   price,
		Quantity:     qty,
		EntryAt:      at,
		HighestPrice: price,
	}
	return nil
}

// Close sells qty shares at price; a qty at or above the held amount
// destroys the position.
func (b *Book) Close(ticker string, price float64, qty int) error {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if price <= 0 || qty <= 0 {
		return fmt.Errorf("close %s: need positive price and quantity", ticker)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[ticker]
	if !ok {
		return fmt.Errorf("close %s: no open position", ticker)
	}
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	b.cash += price * float64(qty)
	b.dailyPnL += (price - pos.EntryPrice) * float64(qty)
	pos.Quantity -= qty
	if pos.Quantity == 0 {
		delete(b.positions, ticker)
	}
	return nil
}

// Mark feeds a price tick into the high-water tracking.
func (b *Book) Mark(ticker string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pos, ok := b.positions[strings.ToUpper(strings.TrimSpace(ticker))]; ok {
		pos.MarkPrice(price)
	}
}

// Rollover advances every open position by one hold day and resets the
// daily counters. Call once per trading-day boundary.
func (b *Book) Rollover() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, pos := range b.positions {
		pos.Rollover()
	}
	b.dailyTrades = 0
	b.dailyPnL = 0
	b.startOfDayEq = b.equityLocked(nil)
}

// Position returns a copy of the named position.
func (b *Book) Position(ticker string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.positions[strings.ToUpper(strings.TrimSpace(ticker))]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all open positions.
func (b *Book) Positions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

func (b *Book) equityLocked(prices map[string]float64) float64 {
	eq := b.cash
	for t, pos := range b.positions {
		px := pos.EntryPrice
		if p, ok := prices[t]; ok && p > 0 {
			px = p
		}
		eq += px * float64(pos.Quantity)
	}
	return eq
}

// Snapshot is the point-in-time account view consumed by the entry
// evaluator. Prices map instrument to last trade price.
type Snapshot struct {
	TotalValue  float64
	Cash        float64
	Positions   []Position
	Prices      map[string]float64
	DailyTrades int
	DailyPnLPct float64
}

// Snapshot values positions at the supplied prices (entry price when a tick
// is missing) and computes the day's realized P&L percentage against the
// start-of-day equity.
func (b *Book) Snapshot(prices map[string]float64) Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := Snapshot{
		Cash:        b.cash,
		Prices:      prices,
		DailyTrades: b.dailyTrades,
	}
	snap.TotalValue = b.equityLocked(prices)
	if b.startOfDayEq > 0 {
		snap.DailyPnLPct = b.dailyPnL / b.startOfDayEq * 100
	}
	snap.Positions = make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	return snap
}

// InvestedValue is the market value currently held in ticker.
func (s Snapshot) InvestedValue(ticker string) float64 {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	for _, pos := range s.Positions {
		if pos.Ticker != ticker {
			continue
		}
		px := pos.EntryPrice
		if p, ok := s.Prices[ticker]; ok && p > 0 {
			px = p
		}
		return px * float64(pos.Quantity)
	}
	return 0
}

// TotalInvested is the market value of all open positions.
func (s Snapshot) TotalInvested() float64 {
	total := 0.0
	for _, pos := range s.Positions {
		px := pos.EntryPrice
		if p, ok := s.Prices[pos.Ticker]; ok && p > 0 {
			px = p
		}
		total += px * float64(pos.Quantity)
	}
	return total
}
