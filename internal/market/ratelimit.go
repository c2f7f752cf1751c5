package market

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"tradebot-core/internal/errs"
)

// RateLimited throttles calls to an upstream provider shared by all tenant
// loops.
type RateLimited struct {
	inner   Provider
	limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst.
func NewRateLimited(inner Provider, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) wait(ctx context.Context, symbol string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit %s: %w: %v", symbol, errs.ErrDataUnavailable, err)
	}
	return nil
}

// CurrentPrice waits for a token, then asks the upstream provider.
func (r *RateLimited) CurrentPrice(ctx context.Context, symbol string) (Quote, error) {
	if err := r.wait(ctx, symbol); err != nil {
		return Quote{}, err
	}
	return r.inner.CurrentPrice(ctx, symbol)
}

// HistoricalPrices waits for a token, then asks the upstream provider.
func (r *RateLimited) HistoricalPrices(ctx context.Context, symbol string, periods int) ([]float64, error) {
	if err := r.wait(ctx, symbol); err != nil {
		return nil, err
	}
	return r.inner.HistoricalPrices(ctx, symbol, periods)
}

// HistoricalVolumes forwards to the upstream provider when it serves volumes.
func (r *RateLimited) HistoricalVolumes(ctx context.Context, symbol string, periods int) ([]float64, error) {
	vs, ok := r.inner.(VolumeSource)
	if !ok {
		return nil, fmt.Errorf("volumes %s: provider has no volume data: %w", symbol, errs.ErrDataUnavailable)
	}
	if err := r.wait(ctx, symbol); err != nil {
		return nil, err
	}
	return vs.HistoricalVolumes(ctx, symbol, periods)
}
