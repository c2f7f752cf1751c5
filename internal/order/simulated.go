package order

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/market"
	"tradebot-core/pkg/db"
)

// SimConfig tunes the simulated venue.
type SimConfig struct {
	SlippageBps         float64 // basis points of slippage applied on fills
	GatewayLatencyMinMs int     // simulated venue latency lower bound
	GatewayLatencyMaxMs int     // simulated venue latency upper bound
	PriceDecimals       int32   // fill price rounding, default 2
}

// Simulated fills market orders against the latest quote with random
// adverse slippage. No venue is contacted.
type Simulated struct {
	prices market.Provider
	cfg    SimConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulated creates a simulated executor. A zero seed uses the clock.
func NewSimulated(prices market.Provider, cfg SimConfig, seed int64) *Simulated {
	if cfg.GatewayLatencyMaxMs > 0 && cfg.GatewayLatencyMinMs > cfg.GatewayLatencyMaxMs {
		cfg.GatewayLatencyMinMs, cfg.GatewayLatencyMaxMs = cfg.GatewayLatencyMaxMs, cfg.GatewayLatencyMinMs
	}
	if cfg.GatewayLatencyMinMs < 0 {
		cfg.GatewayLatencyMinMs = 0
	}
	if cfg.PriceDecimals <= 0 {
		cfg.PriceDecimals = 2
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{prices: prices, cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// PlaceMarketOrder fills at the current quote moved against the taker by up
// to SlippageBps.
func (s *Simulated) PlaceMarketOrder(ctx context.Context, symbol string, side db.Side, quantity float64) (Fill, error) {
	if quantity <= 0 {
		return Fill{}, fmt.Errorf("%w: quantity must be positive, got %v", errs.ErrValidation, quantity)
	}
	if side != db.SideBuy && side != db.SideSell {
		return Fill{}, fmt.Errorf("%w: unknown side %q", errs.ErrValidation, side)
	}

	if err := s.wait(ctx); err != nil {
		return Fill{}, fmt.Errorf("%w: %v", errs.ErrExecutionFailed, err)
	}

	q, err := s.prices.CurrentPrice(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("%w: quote %s: %v", errs.ErrExecutionFailed, symbol, err)
	}
	if q.Price <= 0 {
		return Fill{}, fmt.Errorf("%w: no price for %s", errs.ErrExecutionFailed, symbol)
	}

	price := q.Price
	slippageFrac := s.cfg.SlippageBps / 10000.0
	if slippageFrac > 0 {
		noise := s.nextFloat() * slippageFrac
		if side == db.SideBuy {
			price = price * (1 + noise)
		} else {
			price = price * (1 - noise)
		}
	}
	price, _ = decimal.NewFromFloat(price).Round(s.cfg.PriceDecimals).Float64()

	return Fill{
		OrderID:  uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Quantity: quantity,
		Price:    price,
		Time:     time.Now().UTC(),
	}, nil
}

func (s *Simulated) nextFloat() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *Simulated) wait(ctx context.Context) error {
	maxMs := s.cfg.GatewayLatencyMaxMs
	if maxMs <= 0 {
		return ctx.Err()
	}
	minMs := s.cfg.GatewayLatencyMinMs
	delayMs := minMs
	if span := maxMs - minMs; span > 0 {
		s.mu.Lock()
		delayMs += s.rng.Intn(span + 1)
		s.mu.Unlock()
	}
	if delayMs == 0 {
		return ctx.Err()
	}
	t := time.NewTimer(time.Duration(delayMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
