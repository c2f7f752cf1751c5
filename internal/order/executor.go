// Package order holds the execution collaborator contract, a simulated
// executor, and the manager for conditional (limit, stop-limit, OCO) orders.
package order

import (
	"context"
	"time"

	"tradebot-core/pkg/db"
)

// Fill is the result of a market order.
type Fill struct {
	OrderID  string    `json:"order_id"`
	Symbol   string    `json:"symbol"`
	Side     db.Side   `json:"side"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Time     time.Time `json:"time"`
}

// Executor places market orders. Quantity is capital in quote currency.
// A venue refusal wraps errs.ErrExecutionFailed.
type Executor interface {
	PlaceMarketOrder(ctx context.Context, symbol string, side db.Side, quantity float64) (Fill, error)
}
