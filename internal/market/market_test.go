package market

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradebot-core/internal/errs"
)

func TestSimulatedHistoryAndQuotes(t *testing.T) {
	sim := NewSimulated(42)
	ctx := context.Background()

	hist, err := sim.HistoricalPrices(ctx, "BTC-USD", 200)
	require.NoError(t, err)
	require.Len(t, hist, 200)
	assert.Equal(t, 45000.0, hist[0])

	vols, err := sim.HistoricalVolumes(ctx, "BTC-USD", 200)
	require.NoError(t, err)
	require.Len(t, vols, 200)
	for _, v := range vols {
		assert.GreaterOrEqual(t, v, 100.0)
		assert.Less(t, v, 1000.0)
	}

	q, err := sim.CurrentPrice(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Greater(t, q.Price, 0.0)

	after, err := sim.HistoricalPrices(ctx, "BTC-USD", 200)
	require.NoError(t, err)
	assert.Equal(t, q.Price, after[len(after)-1])
	assert.Equal(t, hist[1:], after[:199])

	unknown, err := sim.HistoricalPrices(ctx, "DOGE", 1)
	require.NoError(t, err)
	assert.Equal(t, []float64{1000}, unknown)
}

func TestSimulatedIsDeterministicPerSeed(t *testing.T) {
	ctx := context.Background()
	a, _ := NewSimulated(7).HistoricalPrices(ctx, "ETH-USD", 50)
	b, _ := NewSimulated(7).HistoricalPrices(ctx, "ETH-USD", 50)
	assert.Equal(t, a, b)
}

func TestSimulatedErrorsAreDataUnavailable(t *testing.T) {
	sim := NewSimulated(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.CurrentPrice(ctx, "BTC-USD")
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)

	_, err = sim.HistoricalPrices(context.Background(), "BTC-USD", 0)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)
}

func TestRateLimited(t *testing.T) {
	rl := NewRateLimited(NewSimulated(3), 1, 1)
	ctx := context.Background()

	_, err := rl.CurrentPrice(ctx, "BTC-USD")
	require.NoError(t, err)

	// The bucket is empty and the deadline is shorter than one refill.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = rl.HistoricalPrices(short, "BTC-USD", 10)
	assert.ErrorIs(t, err, errs.ErrDataUnavailable)

	fast := NewRateLimited(NewSimulated(3), 1000, 10)
	vols, err := fast.HistoricalVolumes(ctx, "BTC-USD", 5)
	require.NoError(t, err)
	assert.Len(t, vols, 5)
}
