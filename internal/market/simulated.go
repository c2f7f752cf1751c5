package market

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tradebot-core/internal/errs"
)

const maxSimHistory = 5000

var simBasePrices = map[string]float64{
	"BTC-USD": 45000,
	"BTCUSDT": 45000,
	"ETH-USD": 2500,
	"ETHUSDT": 2500,
}

// Simulated is a random-walk market for dry runs. Each CurrentPrice call
// advances the symbol by one step; history is backfilled on first use.
type Simulated struct {
	Volatility float64 // per-step standard deviation as a fraction, default 0.005
	Drift      float64 // per-step mean return, default 0

	mu     sync.Mutex
	rng    *rand.Rand
	series map[string]*simSeries
	now    func() time.Time
}

type simSeries struct {
	prices  []float64
	volumes []float64
}

// NewSimulated seeds the walk; seed 0 uses the current time.
func NewSimulated(seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		Volatility: 0.005,
		rng:        rand.New(rand.NewSource(seed)),
		series:     make(map[string]*simSeries),
		now:        time.Now,
	}
}

func (s *Simulated) get(symbol string, minLen int) *simSeries {
	ser, ok := s.series[symbol]
	if !ok {
		base, known := simBasePrices[symbol]
		if !known {
			base = 1000
		}
		ser = &simSeries{prices: []float64{base}, volumes: []float64{s.volume()}}
		s.series[symbol] = ser
	}
	for len(ser.prices) < minLen {
		s.step(ser)
	}
	return ser
}

func (s *Simulated) volume() float64 {
	return 100 + s.rng.Float64()*900
}

func (s *Simulated) step(ser *simSeries) {
	last := ser.prices[len(ser.prices)-1]
	ret := s.Drift + s.rng.NormFloat64()*s.Volatility
	next := last * (1 + ret)
	if next <= 0 {
		next = last
	}
	ser.prices = append(ser.prices, next)
	ser.volumes = append(ser.volumes, s.volume())
	if over := len(ser.prices) - maxSimHistory; over > 0 {
		ser.prices = append([]float64(nil), ser.prices[over:]...)
		ser.volumes = append([]float64(nil), ser.volumes[over:]...)
	}
}

// CurrentPrice advances the walk and returns the new quote.
func (s *Simulated) CurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	if err := ctx.Err(); err != nil {
		return Quote{}, fmt.Errorf("price %s: %w: %v", symbol, errs.ErrDataUnavailable, err)
	}
	if symbol == "" {
		return Quote{}, fmt.Errorf("price: empty symbol: %w", errs.ErrDataUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.get(symbol, 1)
	s.step(ser)
	n := len(ser.prices)
	price := ser.prices[n-1]

	// 24h change measured against the point 1440 steps back, or the oldest.
	ref := ser.prices[max(0, n-1441)]
	return Quote{
		Symbol:    symbol,
		Price:     price,
		Volume:    ser.volumes[n-1],
		Change24h: (price - ref) / ref * 100,
		Timestamp: s.now(),
	}, nil
}

// HistoricalPrices returns the newest periods prices, oldest first.
func (s *Simulated) HistoricalPrices(ctx context.Context, symbol string, periods int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("history %s: %w: %v", symbol, errs.ErrDataUnavailable, err)
	}
	if periods <= 0 {
		return nil, fmt.Errorf("history %s: periods must be positive: %w", symbol, errs.ErrDataUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.get(symbol, min(periods, maxSimHistory))
	from := max(0, len(ser.prices)-periods)
	return append([]float64(nil), ser.prices[from:]...), nil
}

// HistoricalVolumes returns volumes aligned with HistoricalPrices.
func (s *Simulated) HistoricalVolumes(ctx context.Context, symbol string, periods int) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("volumes %s: %w: %v", symbol, errs.ErrDataUnavailable, err)
	}
	if periods <= 0 {
		return nil, fmt.Errorf("volumes %s: periods must be positive: %w", symbol, errs.ErrDataUnavailable)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.get(symbol, min(periods, maxSimHistory))
	from := max(0, len(ser.volumes)-periods)
	return append([]float64(nil), ser.volumes[from:]...), nil
}
