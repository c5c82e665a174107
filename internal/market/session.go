// Package market classifies wall-clock time into trading-session phases.
package market

import (
	"fmt"
	"time"
)

// Phase is the current slice of the trading day.
type Phase string

const (
	PhasePre     Phase = "pre"     // pre-market
	PhaseRegular Phase = "regular" // regular session, outside the closing window
	PhaseClosing Phase = "closing" // last minutes of the regular session
	PhaseAfter   Phase = "after"   // post-market
	PhaseClosed  Phase = "closed"  // overnight / weekend
)

// InRegularSession covers both the regular phase and its closing window.
func (p Phase) InRegularSession() bool {
	return p == PhaseRegular || p == PhaseClosing
}

// Clock reports the session phase. The engine depends on this interface so
// tests can pin the phase.
type Clock interface {
	Phase(t time.Time) Phase
	Now() time.Time
}

// ExchangeClock is a Clock for a single equity exchange calendar. It knows
// nothing about holidays; a closed holiday behaves like a very quiet regular
// day, which only ever makes the engine more conservative (limit orders).
type ExchangeClock struct {
	loc           *time.Location
	preOpen       time.Duration // offset from midnight
	open          time.Duration
	close         time.Duration
	afterClose    time.Duration
	closingWindow time.Duration
}

// NewExchangeClock builds a clock for the named IANA timezone. Times follow
// the US cash-equity convention: pre 04:00, open 09:30, close 16:00, post
// until 20:00. closingWindowMin is how many minutes before the close count
// as the closing window.
func NewExchangeClock(tz string, closingWindowMin int) (*ExchangeClock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading session timezone %s: %w", tz, err)
	}
	if closingWindowMin <= 0 {
		closingWindowMin = 10
	}
	return &ExchangeClock{
		loc:           loc,
		preOpen:       4 * time.Hour,
		open:          9*time.Hour + 30*time.Minute,
		close:         16 * time.Hour,
		afterClose:    20 * time.Hour,
		closingWindow: time.Duration(closingWindowMin) * time.Minute,
	}, nil
}

func (c *ExchangeClock) Now() time.Time { return time.Now().In(c.loc) }

// Phase classifies t against the exchange day.
func (c *ExchangeClock) Phase(t time.Time) Phase {
	t = t.In(c.loc)
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return PhaseClosed
	}
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	since := t.Sub(midnight)
	switch {
	case since < c.preOpen:
		return PhaseClosed
	case since < c.open:
		return PhasePre
	case since < c.close-c.closingWindow:
		return PhaseRegular
	case since < c.close:
		return PhaseClosing
	case since < c.afterClose:
		return PhaseAfter
	default:
		return PhaseClosed
	}
}

// FixedClock pins phase and time, for tests and replay.
type FixedClock struct {
	Fixed   Phase
	Instant time.Time
}

func (f FixedClock) Phase(time.Time) Phase { return f.Fixed }

func (f FixedClock) Now() time.Time {
	if f.Instant.IsZero() {
		return time.Now()
	}
	return f.Instant
}
