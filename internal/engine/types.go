package engine

import (
	"time"

	"tradebot-core/internal/monitor"
	"tradebot-core/pkg/cache"
	"tradebot-core/pkg/db"
)

// Trade listing bounds.
const (
	DefaultTradeLimit = 50
	MaxTradeLimit     = 500
)

// OrderRequest places one conditional order. Which price fields are read
// depends on Type.
type OrderRequest struct {
	Type       db.OrderType `json:"order_type"`
	Symbol     string       `json:"symbol"`
	Side       db.Side      `json:"side,omitempty"` // ignored for OCO, which always sells
	Quantity   float64      `json:"quantity"`
	LimitPrice float64      `json:"limit_price,omitempty"`
	StopPrice  float64      `json:"stop_price,omitempty"`
	TakeProfit float64      `json:"take_profit,omitempty"`
	StopLoss   float64      `json:"stop_loss,omitempty"`
}

// SystemStatus represents the system runtime status.
type SystemStatus struct {
	Mode           string           `json:"mode"`
	Version        string           `json:"version"`
	RunningTenants []string         `json:"running_tenants"`
	PendingOrders  int              `json:"pending_orders"`
	Metrics        monitor.Snapshot `json:"metrics"`
	SeriesCache    cache.CacheStats `json:"series_cache"`
	ServerTime     time.Time        `json:"server_time"`
}
