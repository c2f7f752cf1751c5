package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"tradebot-core/internal/errs"
	"tradebot-core/internal/market"
)

type quoteStub map[string]float64

func (q quoteStub) CurrentPrice(_ context.Context, symbol string) (market.Quote, error) {
	p, ok := q[symbol]
	if !ok {
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, errs.ErrDataUnavailable)
	}
	return market.Quote{Symbol: symbol, Price: p}, nil
}

func (q quoteStub) HistoricalPrices(context.Context, string, int) ([]float64, error) {
	return []float64{100, 120}, nil
}

func TestQuoteSourceSkipsSymbolsWithoutLiveQuote(t *testing.T) {
	src := quoteSource(quoteStub{"ETH-USD": 2500, "ZERO": 0}, zaptest.NewLogger(t))

	got := src(context.Background(), []string{"BTC-USD", "ETH-USD", "ZERO"})
	assert.Equal(t, map[string]float64{"ETH-USD": 2500}, got)
}
