// Package schedule runs periodic loops against an injectable clock so tests
// can drive ticks with a clockwork.FakeClock instead of real waits.
package schedule

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the source of time, tickers and timers for every loop.
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock { return clockwork.NewRealClock() }

// Every calls fn once immediately, then on every tick, until ctx is done.
// Calls never overlap; ticks missed while fn runs are dropped.
func Every(ctx context.Context, clk Clock, interval time.Duration, fn func(context.Context)) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if ctx.Err() != nil {
				return
			}
			fn(ctx)
		}
	}
}
