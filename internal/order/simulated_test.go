package order

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/market"
	"tradebot-core/pkg/db"
)

type fixedQuotes struct {
	price float64
	err   error
}

func (f fixedQuotes) CurrentPrice(_ context.Context, symbol string) (market.Quote, error) {
	return market.Quote{Symbol: symbol, Price: f.price}, f.err
}

func (f fixedQuotes) HistoricalPrices(context.Context, string, int) ([]float64, error) {
	return nil, f.err
}

func TestSimulatedSlippageIsAdverse(t *testing.T) {
	sim := NewSimulated(fixedQuotes{price: 100}, SimConfig{SlippageBps: 50}, 7)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		buy, err := sim.PlaceMarketOrder(ctx, "BTC-USD", db.SideBuy, 100)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, buy.Price, 100.0)
		assert.LessOrEqual(t, buy.Price, 100.5)

		sell, err := sim.PlaceMarketOrder(ctx, "BTC-USD", db.SideSell, 100)
		require.NoError(t, err)
		assert.LessOrEqual(t, sell.Price, 100.0)
		assert.GreaterOrEqual(t, sell.Price, 99.5)
	}
}

func TestSimulatedWithoutSlippageFillsAtQuote(t *testing.T) {
	sim := NewSimulated(fixedQuotes{price: 2500.123}, SimConfig{}, 1)
	fill, err := sim.PlaceMarketOrder(context.Background(), "ETH-USD", db.SideBuy, 40)
	require.NoError(t, err)
	assert.Equal(t, 2500.12, fill.Price)
	assert.Equal(t, 40.0, fill.Quantity)
	assert.NotEmpty(t, fill.OrderID)
}

func TestSimulatedFailures(t *testing.T) {
	ctx := context.Background()

	_, err := NewSimulated(fixedQuotes{price: 100}, SimConfig{}, 1).PlaceMarketOrder(ctx, "X", db.SideBuy, 0)
	assert.ErrorIs(t, err, errs.ErrValidation)

	_, err = NewSimulated(fixedQuotes{err: errs.ErrDataUnavailable}, SimConfig{}, 1).PlaceMarketOrder(ctx, "X", db.SideBuy, 10)
	assert.ErrorIs(t, err, errs.ErrExecutionFailed)

	_, err = NewSimulated(fixedQuotes{price: 0}, SimConfig{}, 1).PlaceMarketOrder(ctx, "X", db.SideSell, 10)
	assert.ErrorIs(t, err, errs.ErrExecutionFailed)
}

func TestSimulatedLatencyRespectsContext(t *testing.T) {
	sim := NewSimulated(fixedQuotes{price: 100}, SimConfig{GatewayLatencyMinMs: 5000, GatewayLatencyMaxMs: 5000}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := sim.PlaceMarketOrder(ctx, "X", db.SideBuy, 10)
	assert.ErrorIs(t, err, errs.ErrExecutionFailed)
}
