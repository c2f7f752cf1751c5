// Package engine is the facade the HTTP layer talks to. It starts and stops
// tenant loops through the supervisor, places and cancels conditional orders,
// and answers the read queries over persisted tenant state.
package engine

import (
	"context"

	"tradebot-core/internal/risk"
	"tradebot-core/pkg/db"
)

// Service defines the operations exposed to the API layer. The API layer
// should only interact with the engine through this interface.
type Service interface {
	// Tenant lifecycle
	StartTenant(ctx context.Context, tenantID string) error
	StopTenant(ctx context.Context, tenantID string) error
	RunningTenants() []string

	// Risk
	LatestRiskSnapshot(ctx context.Context, tenantID string) (db.RiskSnapshot, error)
	RiskAssessment(ctx context.Context, tenantID string) (risk.Assessment, error)

	// Positions, trades and signals
	Positions(ctx context.Context, tenantID string) ([]db.Position, error)
	Trades(ctx context.Context, tenantID string, limit int) ([]db.Trade, error)
	LatestSignal(ctx context.Context, tenantID, symbol string) (db.MarketSignal, error)

	// Conditional orders
	PendingOrders(ctx context.Context, tenantID string) ([]db.PendingOrder, error)
	PlaceOrder(ctx context.Context, tenantID string, req OrderRequest) (db.PendingOrder, error)
	CancelOrder(ctx context.Context, orderID string) error

	// System
	SystemStatus(ctx context.Context) SystemStatus
}

// Lifecycle starts and stops tenant loops. *supervisor.Supervisor satisfies it.
type Lifecycle interface {
	Start(tenantID string) bool
	Stop(ctx context.Context, tenantID string) error
	Running() []string
}
