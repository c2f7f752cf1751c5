// Package market defines the market-data collaborator used by the decision
// engine, plus a simulated feed and a rate-limited wrapper.
package market

import (
	"context"
	"time"
)

// Quote is the latest traded state of a symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	Change24h float64   `json:"change_24h"`
	Timestamp time.Time `json:"timestamp"`
}

// Provider serves current and historical prices. Failures wrap
// errs.ErrDataUnavailable.
type Provider interface {
	CurrentPrice(ctx context.Context, symbol string) (Quote, error)
	// HistoricalPrices returns up to periods prices, oldest first.
	HistoricalPrices(ctx context.Context, symbol string, periods int) ([]float64, error)
}

// VolumeSource is implemented by providers that also serve traded volume
// aligned with HistoricalPrices.
type VolumeSource interface {
	HistoricalVolumes(ctx context.Context, symbol string, periods int) ([]float64, error)
}
